package analysis

import (
	"errors"
	"fmt"
)

// Kind classifies analysis failures so callers never inspect messages.
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindAuthorization       Kind = "authorization"
	KindProcessing          Kind = "processing"
	KindParse               Kind = "parse"
	KindTimeout             Kind = "timeout"
	KindCanceled            Kind = "canceled"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInvalidInput        Kind = "invalid_input"
	KindLedgerWrite         Kind = "ledger_write"
)

// Retryable reports whether the same request may succeed on a later try.
func (k Kind) Retryable() bool {
	switch k {
	case KindProcessing, KindTimeout, KindLedgerWrite:
		return true
	}
	return false
}

var (
	// ErrUnauthorized is returned by AIService implementations when the
	// remote service rejects the credential or the connection.
	ErrUnauthorized = errors.New("ai service rejected the request")
	// ErrNoService means no AI credential was configured.
	ErrNoService = errors.New("ai service not configured")
)

// Error is the typed failure returned by Analyze and the session runner.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("analysis: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("analysis: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of kind k.
func Errorf(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
