package transport

import "errors"

var (
	errShortFrame = errors.New("transport: frame shorter than IV+HMAC tag")
	errBadHMAC    = errors.New("transport: HMAC verification failed")
	errBadPadding = errors.New("transport: invalid PKCS#7 padding")
)
