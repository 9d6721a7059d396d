package auth

import "errors"

var (
	errInvalidToken    = errors.New("auth: token failed validation")
	errSubjectMismatch = errors.New("auth: token subject does not match claimed nodeId")
)
