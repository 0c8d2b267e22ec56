package dedupe

import (
	"time"

	"github.com/okian/gather/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithEmbedder enables the semantic signal when Algorithms.SemanticEnabled is set.
func WithEmbedder(emb Embedder) Option {
	return func(e *Engine) {
		e.embedder = emb
	}
}

// WithClock sets the clock used for decision timestamps and stats.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the generator for decision ids.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithLogger sets the logger. Without one the engine is silent.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}
