package source

import "errors"

// Sentinel kinds for adapter errors.
var (
	ErrFetch         = errors.New("source fetch failed")
	ErrStatus        = errors.New("source returned error status")
	ErrCircuitOpen   = errors.New("source circuit open")
	ErrMalformedBody = errors.New("source body malformed")
	ErrUnknownKind   = errors.New("unknown source kind")
)
