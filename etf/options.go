package etf

import (
	"io"

	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/crypto/ibe"
	"github.com/ideal-lab5/etf-cli/crypto/threshold"
	"github.com/ideal-lab5/etf-cli/internal/metrics"
)

// Option configures an Engine.
type Option func(*Engine)

// WithCombiner replaces the Shamir combiner.
func WithCombiner(c threshold.Combiner) Option {
	return func(e *Engine) {
		e.combiner = c
	}
}

// WithKEM replaces the FullIdent capsule scheme.
func WithKEM(k ibe.KEM) Option {
	return func(e *Engine) {
		e.kem = k
	}
}

// WithRandomness sets the source of every random value the engine draws:
// the message key, the share polynomial, σ in the capsules and the nonce.
func WithRandomness(r io.Reader) Option {
	return func(e *Engine) {
		e.rand = r
	}
}

// WithLogger sets the engine logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics records every operation on r.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}
