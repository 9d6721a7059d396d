// Package errs defines the error taxonomy shared across the replication
// engine. Every package returns one of these wrapped types so callers
// (retry policies, CLI, health endpoint) can branch on error class instead
// of parsing messages.
package errs

import "fmt"

type Kind int

const (
	Configuration Kind = iota
	Persistence
	Network
	Auth
	Crypto
	Chain
	Concurrency
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Persistence:
		return "persistence"
	case Network:
		return "network"
	case Auth:
		return "auth"
	case Crypto:
		return "crypto"
	case Chain:
		return "chain"
	case Concurrency:
		return "concurrency"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a stable Kind for classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Retryable reports whether the RetryPolicy should attempt again.
func Retryable(err error) bool {
	var e *Error
	if !As(err, &e) {
		return false
	}
	return e.Kind == Network || e.Kind == Timeout
}

// As is a thin wrapper so this package does not need to import errors
// directly in call sites that only care about our own *Error type.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
