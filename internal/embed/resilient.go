package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/reglens/reglens/internal/model"
)

// Resilient wraps a Provider with rate limiting and bounded retries.
// Admission control queues callers instead of failing them; only exhausted
// retries surface, wrapped in ErrUnavailable.
type Resilient struct {
	inner      Provider
	limiter    *rate.Limiter
	timeout    time.Duration
	log        zerolog.Logger
	newBackOff func() backoff.BackOff // injectable for tests
}

// NewResilient wraps inner with the limits from cfg
func NewResilient(inner Provider, cfg model.EmbeddingConfig, log zerolog.Logger) *Resilient {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retries := cfg.MaxRetries
	return &Resilient{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		log:     log.With().Str("component", "embed").Logger(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return backoff.WithMaxRetries(b, uint64(retries))
		},
	}
}

// ModelName returns the inner provider's model
func (r *Resilient) ModelName() string {
	return r.inner.ModelName()
}

// Dimensions returns the inner provider's vector width
func (r *Resilient) Dimensions() int {
	return r.inner.Dimensions()
}

// Embed waits for rate-limit admission, then retries transient failures
// with exponential backoff. A response of the wrong width is permanent:
// retrying cannot fix a model mismatch. Context cancellation propagates
// as ctx.Err(), not ErrUnavailable.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var vec []float32
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		v, err := r.inner.Embed(attemptCtx, text)
		if err != nil {
			return err
		}
		if want := r.inner.Dimensions(); want > 0 && len(v) != want {
			return backoff.Permanent(fmt.Errorf("dimension mismatch: got %d, want %d", len(v), want))
		}
		vec = v
		return nil
	}

	notify := func(err error, wait time.Duration) {
		r.log.Warn().Err(err).Dur("retry_in", wait).Msg("embedding attempt failed")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(r.newBackOff(), ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return vec, nil
}
