package chat

import "errors"

// Sentinel errors for turn handling. Transport adapters use errors.Is on
// these to decide status codes and event payloads.
var (
	// ErrAuthRequired indicates the turn was requested without a resolvable
	// user identity. The call is rejected before any transport side effect.
	ErrAuthRequired = errors.New("authenticated user required")

	// ErrEmptyInput indicates the turn carried no usable text. No generation
	// request is issued and the transport sees no events at all.
	ErrEmptyInput = errors.New("empty input")

	// ErrBackend wraps generation backend failures (errors or timeouts on
	// either stream).
	ErrBackend = errors.New("generation backend failure")
)
