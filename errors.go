package ebox

import "fmt"

// Kind categorizes an Error. Callers should switch on Kind (or compare
// against the Err* sentinels with errors.Is) rather than string-matching
// error text.
type Kind string

// The error kinds defined by the core. See the table in the spec's error
// handling section.
const (
	KindInvalidFormat      Kind = "invalid_format"
	KindUnsupportedVersion Kind = "unsupported_version"
	KindInvalidArg         Kind = "invalid_arg"
	KindInvalidState       Kind = "invalid_state"
	KindAuthFailed         Kind = "auth_failed"
	KindNoKey              Kind = "no_key"
	KindInsufficient       Kind = "insufficient"
	KindCorrupt            Kind = "corrupt"
	KindAgain              Kind = "again"
	KindCrypto             Kind = "crypto"
	KindNoMemory           Kind = "no_memory"
)

// Error is the error type returned by every operation in the core. It
// carries a Kind so callers can distinguish recoverable failures (NoKey,
// AuthFailed) from terminal ones (Corrupt) without parsing text.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func wrapErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("ebox: %s: %s: %v", e.Kind, e.msg, e.err)
	}

	return fmt.Sprintf("ebox: %s: %s", e.Kind, e.msg)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, ebox.ErrCorrupt) works regardless of the message or
// wrapped cause attached to err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrInvalidFormat      = newErr(KindInvalidFormat, "malformed serialized input")
	ErrUnsupportedVersion = newErr(KindUnsupportedVersion, "version field beyond implementation")
	ErrInvalidArg         = newErr(KindInvalidArg, "violated precondition")
	ErrInvalidState       = newErr(KindInvalidState, "operation not legal in current object state")
	ErrAuthFailed         = newErr(KindAuthFailed, "AEAD tag or signature mismatch")
	ErrNoKey              = newErr(KindNoKey, "provider lacks the required key material")
	ErrInsufficient       = newErr(KindInsufficient, "fewer than threshold shares available")
	ErrCorrupt            = newErr(KindCorrupt, "integrity-checked payload failed to verify")
	ErrAgain              = newErr(KindAgain, "part or config already satisfied")
	ErrCrypto             = newErr(KindCrypto, "RNG or primitive failure")
	ErrNoMemory           = newErr(KindNoMemory, "allocation failure")
)
