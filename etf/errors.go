package etf

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is against the typed errors below.
var (
	ErrInvalidThreshold   = errors.New("invalid threshold")
	ErrEncryptInternal    = errors.New("internal encryption failure")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrShareMismatch      = errors.New("share mismatch")
	ErrAuthentication     = errors.New("authentication failure")
	ErrMalformedInput     = errors.New("malformed input")
	ErrCodec              = errors.New("codec failure")
)

// EncryptKind classifies an EncryptError.
type EncryptKind int

const (
	// KindInvalidThreshold: t outside [1, n] or above MaxThreshold.
	KindInvalidThreshold EncryptKind = iota + 1
	// KindInternal: randomness, key or primitive failure.
	KindInternal
)

func (k EncryptKind) String() string {
	switch k {
	case KindInvalidThreshold:
		return "invalid_threshold"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("encrypt_kind(%d)", int(k))
	}
}

func (k EncryptKind) sentinel() error {
	if k == KindInvalidThreshold {
		return ErrInvalidThreshold
	}
	return ErrEncryptInternal
}

// EncryptError is returned by every failed encryption. No partial bundle is
// ever returned alongside it.
type EncryptError struct {
	Kind EncryptKind
	Err  error
}

func (e *EncryptError) Error() string {
	if e.Err == nil {
		return "etf: encrypt: " + e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("etf: encrypt: %s: %v", e.Kind.sentinel(), e.Err)
}

func (e *EncryptError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error kind.
func (e *EncryptError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// DecryptKind classifies a DecryptError.
type DecryptKind int

const (
	// KindInsufficientShares: fewer than t usable secrets.
	KindInsufficientShares DecryptKind = iota + 1
	// KindShareMismatch: a supplied secret does not open its capsule.
	KindShareMismatch
	// KindAuthentication: the AEAD tag did not verify.
	KindAuthentication
	// KindMalformedInput: inputs that cannot be parsed or do not line up.
	KindMalformedInput
)

func (k DecryptKind) String() string {
	switch k {
	case KindInsufficientShares:
		return "insufficient_shares"
	case KindShareMismatch:
		return "share_mismatch"
	case KindAuthentication:
		return "authentication"
	case KindMalformedInput:
		return "malformed_input"
	default:
		return fmt.Sprintf("decrypt_kind(%d)", int(k))
	}
}

func (k DecryptKind) sentinel() error {
	switch k {
	case KindInsufficientShares:
		return ErrInsufficientShares
	case KindShareMismatch:
		return ErrShareMismatch
	case KindAuthentication:
		return ErrAuthentication
	default:
		return ErrMalformedInput
	}
}

// DecryptError is returned by every failed decryption. Index is the position
// of the offending capsule or secret, -1 when the failure is not tied to one.
type DecryptError struct {
	Kind  DecryptKind
	Index int
	Err   error
}

func (e *DecryptError) Error() string {
	msg := "etf: decrypt: " + e.Kind.sentinel().Error()
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s at index %d", msg, e.Index)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DecryptError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error kind.
func (e *DecryptError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func decryptErr(kind DecryptKind, index int, err error) *DecryptError {
	return &DecryptError{Kind: kind, Index: index, Err: err}
}

// CodecError is returned when a bundle cannot be encoded or decoded.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("etf: %s bundle: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Is matches ErrCodec.
func (e *CodecError) Is(target error) bool {
	return target == ErrCodec
}
