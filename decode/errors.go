package decode

import "errors"

var (
	// ErrSessionInit is returned when a backend rejects the codec
	// configuration at session creation. Fatal for the current play
	// attempt.
	ErrSessionInit = errors.New("decoder session init failed")

	// ErrDecodeFailed is returned for a per-unit decode failure. The unit
	// is dropped and decoding continues with the next one.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrClosed is returned when a unit is submitted after Close.
	ErrClosed = errors.New("decoder closed")
)
