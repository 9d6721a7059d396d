// Package auth implements the two handshake credential schemes of spec
// §4.11: a shared-secret equality check (bcrypt-hashed at rest) and
// OAuth2 JWT validation (structural, signature, exp/nbf).
package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/riftdb/riftdb/internal/errs"
)

// Credential is what a connecting peer presents at handshake time (spec
// §6 Handshake message: nodeId, credential).
type Credential struct {
	NodeID       string
	SharedSecret string
	JWT          string
}

// Authenticator validates a handshake Credential.
type Authenticator interface {
	Authenticate(cred Credential) error
}

// SharedSecretAuthenticator compares a presented secret against a
// bcrypt hash stored at rest, never the plaintext secret.
type SharedSecretAuthenticator struct {
	hash []byte
}

// NewSharedSecretAuthenticator bcrypt-hashes secret once at startup.
func NewSharedSecretAuthenticator(secret string) (*SharedSecretAuthenticator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.New(errs.Configuration, "auth.NewSharedSecretAuthenticator", err)
	}
	return &SharedSecretAuthenticator{hash: hash}, nil
}

func (a *SharedSecretAuthenticator) Authenticate(cred Credential) error {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(cred.SharedSecret)); err != nil {
		return errs.New(errs.Auth, "auth.SharedSecretAuthenticator.Authenticate", err)
	}
	return nil
}

// JWTAuthenticator validates tokens issued by a configured OAuth2 issuer:
// signature, issuer, audience, exp, nbf (spec §4.11).
type JWTAuthenticator struct {
	issuer   string
	audience string
	keyFunc  jwt.Keyfunc
}

func NewJWTAuthenticator(issuer, audience string, keyFunc jwt.Keyfunc) *JWTAuthenticator {
	return &JWTAuthenticator{issuer: issuer, audience: audience, keyFunc: keyFunc}
}

func (a *JWTAuthenticator) Authenticate(cred Credential) error {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cred.JWT, &claims, a.keyFunc,
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return errs.New(errs.Auth, "auth.JWTAuthenticator.Authenticate", err)
	}
	if !token.Valid {
		return errs.New(errs.Auth, "auth.JWTAuthenticator.Authenticate", errInvalidToken)
	}
	if claims.Subject != "" && claims.Subject != cred.NodeID {
		return errs.New(errs.Auth, "auth.JWTAuthenticator.Authenticate", errSubjectMismatch)
	}
	return nil
}
