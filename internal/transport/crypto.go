// Package transport implements the optional encrypted framing layer of
// spec §4.11: an ECDH (P-256) handshake deriving two session keys, and
// AES-256-CBC + HMAC-SHA256 length-prefixed frames.
package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"github.com/riftdb/riftdb/internal/errs"
)

// SessionKeys are the two derived AES keys from spec §4.11: "derives two
// session keys by hashing (secret || \"0\") and (secret || \"1\")".
// Initiator encrypts with Key1/decrypts with Key2; responder swaps.
type SessionKeys struct {
	Key1 [32]byte
	Key2 [32]byte
}

// EphemeralKeypair generates a fresh P-256 ECDH keypair for one handshake.
type EphemeralKeypair struct {
	private *ecdh.PrivateKey
}

func GenerateEphemeralKeypair() (*EphemeralKeypair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.New(errs.Crypto, "transport.GenerateEphemeralKeypair", err)
	}
	return &EphemeralKeypair{private: priv}, nil
}

// PublicBytes is the wire form of this keypair's public key, sent as the
// KeyExchange message's ephemeralPublicKey field (spec §6).
func (k *EphemeralKeypair) PublicBytes() []byte {
	return k.private.PublicKey().Bytes()
}

// DeriveSessionKeys computes the shared secret with peerPublic and
// derives Key1/Key2 by hashing secret||"0" and secret||"1" (spec §4.11).
func (k *EphemeralKeypair) DeriveSessionKeys(peerPublic []byte) (SessionKeys, error) {
	var keys SessionKeys

	pub, err := ecdh.P256().NewPublicKey(peerPublic)
	if err != nil {
		return keys, errs.New(errs.Crypto, "transport.DeriveSessionKeys", err)
	}
	secret, err := k.private.ECDH(pub)
	if err != nil {
		return keys, errs.New(errs.Crypto, "transport.DeriveSessionKeys", err)
	}

	h1 := sha256.Sum256(append(append([]byte{}, secret...), '0'))
	h2 := sha256.Sum256(append(append([]byte{}, secret...), '1'))
	keys.Key1 = h1
	keys.Key2 = h2
	return keys, nil
}

// Cipher encrypts/decrypts frames for one direction of a session: writes
// use encryptKey, reads are verified/decrypted with decryptKey. Initiator
// and responder construct a Cipher with Key1/Key2 swapped (spec §4.11).
type Cipher struct {
	encryptKey [32]byte
	decryptKey [32]byte
}

func NewCipher(encryptKey, decryptKey [32]byte) *Cipher {
	return &Cipher{encryptKey: encryptKey, decryptKey: decryptKey}
}

// Seal produces a frame body: [16-byte IV][ciphertext][32-byte HMAC tag],
// AES-256-CBC with PKCS#7 padding, HMAC-SHA256 over IV||ciphertext (spec
// §4.11).
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.encryptKey[:])
	if err != nil {
		return nil, errs.New(errs.Crypto, "transport.Seal", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, errs.New(errs.Crypto, "transport.Seal", err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, c.encryptKey[:])
	mac.Write(iv)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)

	out := make([]byte, 0, len(iv)+len(ciphertext)+len(tag))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// Open verifies the HMAC tag in constant time before decrypting (spec
// §4.11: "HMAC... is verified in constant time before decryption").
func (c *Cipher) Open(frame []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.decryptKey[:])
	if err != nil {
		return nil, errs.New(errs.Crypto, "transport.Open", err)
	}
	blockSize := block.BlockSize()

	const tagSize = sha256.Size
	if len(frame) < blockSize+tagSize {
		return nil, errs.New(errs.Crypto, "transport.Open", errShortFrame)
	}

	iv := frame[:blockSize]
	tag := frame[len(frame)-tagSize:]
	ciphertext := frame[blockSize : len(frame)-tagSize]

	mac := hmac.New(sha256.New, c.decryptKey[:])
	mac.Write(iv)
	mac.Write(ciphertext)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		return nil, errs.New(errs.Crypto, "transport.Open", errBadHMAC)
	}

	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, errs.New(errs.Crypto, "transport.Open", errBadPadding)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, blockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errs.New(errs.Crypto, "transport.pkcs7Unpad", errBadPadding)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errs.New(errs.Crypto, "transport.pkcs7Unpad", errBadPadding)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errs.New(errs.Crypto, "transport.pkcs7Unpad", errBadPadding)
		}
	}
	return data[:len(data)-padLen], nil
}

// writeFrame / readFrame implement the uint32 big-endian
// framing shared by plaintext and encrypted messages alike (spec §6).
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.New(errs.Network, "transport.writeFrame", err)
	}
	if _, err := w.Write(payload); err != nil {
		return errs.New(errs.Network, "transport.writeFrame", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errs.New(errs.Network, "transport.readFrame", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errs.New(errs.Network, "transport.readFrame", err)
	}
	return buf, nil
}
