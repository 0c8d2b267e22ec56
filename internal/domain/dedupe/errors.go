package dedupe

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidConfig        = errors.New("invalid dedupe config")
	ErrNotFingerprintable   = errors.New("event not fingerprintable")
	ErrDuplicateInBatch     = errors.New("event id repeated in batch")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)
