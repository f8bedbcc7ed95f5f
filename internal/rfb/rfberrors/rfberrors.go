// Package rfberrors defines the session error taxonomy from spec.md §7:
// Transport, ProtocolViolation, SanityCheck, AuthFailure, CaptureError,
// and EncoderError. Call sites wrap a sentinel with fmt.Errorf("%w: …") the
// way the teacher wraps ErrInvalidCodec/ErrInvalidQuality in its encoder
// config validation, so errors.Is still resolves to the category.
package rfberrors

import "errors"

var (
	// Transport covers stream read/write failures.
	Transport = errors.New("rfb: transport error")
	// ProtocolViolation covers unexpected opcodes, out-of-bounds sizes, and
	// version mismatches.
	ProtocolViolation = errors.New("rfb: protocol violation")
	// SanityCheck covers internal invariant breaks, e.g. no framebuffer at
	// AwaitingClientInit.
	SanityCheck = errors.New("rfb: sanity check failed")
	// AuthFailure covers a rejected security handshake.
	AuthFailure = errors.New("rfb: authentication failed")
	// CaptureError covers a failing capture source. Recovered locally by the
	// pump; never closes the session on its own.
	CaptureError = errors.New("rfb: capture error")
	// EncoderError covers an encoder failing mid-rectangle. The stream state
	// is undefined afterward, so the session must close.
	EncoderError = errors.New("rfb: encoder error")
)

// Category classifies an error returned from the session pipeline into one
// of the six taxonomy buckets, defaulting to Transport for plain I/O errors
// that were never wrapped with a sentinel.
func Category(err error) error {
	switch {
	case errors.Is(err, ProtocolViolation):
		return ProtocolViolation
	case errors.Is(err, SanityCheck):
		return SanityCheck
	case errors.Is(err, AuthFailure):
		return AuthFailure
	case errors.Is(err, CaptureError):
		return CaptureError
	case errors.Is(err, EncoderError):
		return EncoderError
	default:
		return Transport
	}
}

// Closes reports whether an error in this category should terminate the
// session per spec.md §7's propagation policy. CaptureError is the only
// category that is recovered locally instead.
func Closes(err error) bool {
	return !errors.Is(err, CaptureError)
}
