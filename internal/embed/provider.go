// Package embed turns text into vectors through an external provider.
package embed

import (
	"context"
	"errors"
)

// ErrUnavailable is returned once retries are exhausted. Callers degrade the
// affected unit of work (one section, one delta) and keep going; it never
// aborts a whole run.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider defines the interface for embedding providers. Implementations
// must be safe for concurrent use. They do not retry; resilience lives in
// the Resilient wrapper.
type Provider interface {
	// Embed returns the vector for text
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelName identifies the model; it is part of every cache key
	ModelName() string

	// Dimensions is the vector width the model produces, 0 if unknown
	Dimensions() int
}
