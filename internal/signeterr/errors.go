// Package signeterr defines the typed error kinds shared by every
// component of the daemon. A kind is attached to an error with Wrap or
// New and recovered with KindOf; callers that need to map an error to an
// HTTP status or a NIP-46 response inspect the kind, never the message.
package signeterr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindProtocolError
	KindUnauthorized
	KindCryptoFailure
	KindNotFound
	KindConflict
	KindInvalidArgument
	KindExpired
	KindTransientIO
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindProtocolError:
		return "ProtocolError"
	case KindUnauthorized:
		return "Unauthorized"
	case KindCryptoFailure:
		return "CryptoFailure"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindExpired:
		return "Expired"
	case KindTransientIO:
		return "TransientI/O"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

// New builds a fresh error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Newf is New with fmt-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to err, preserving err in the chain for errors.Is/As.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// KindOf recovers the kind attached to err, or KindUnknown if none was.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.kind
	}
	return KindUnknown
}

// Is reports whether err (or any error it wraps) carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var (
	ErrAlreadyProcessed  = New(KindConflict, "request already processed")
	ErrNameInUse         = New(KindConflict, "name already in use")
	ErrEmptyName         = New(KindInvalidArgument, "name must not be empty")
	ErrEmptyPassphrase   = New(KindInvalidArgument, "passphrase must not be empty")
	ErrNotEncrypted      = New(KindInvalidArgument, "key is not encrypted")
	ErrAlreadyEncrypted  = New(KindInvalidArgument, "key is already encrypted")
	ErrInvalidPassphrase = New(KindUnauthorized, "invalid passphrase")
	ErrPassphraseRequired = New(KindInvalidArgument, "passphrase required")
	ErrNotActive         = New(KindInvalidArgument, "key is not active")
	ErrInvalidSecretEncoding = New(KindInvalidArgument, "invalid secret key encoding")
	ErrNotAuthorized     = New(KindUnauthorized, "Not authorized")
	ErrInvalidCiphertext = New(KindCryptoFailure, "invalid ciphertext")
	ErrExpired           = New(KindExpired, "request expired")
)
