package embeddings

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ziadkadry99/biblioteca/internal/logging"
	"github.com/ziadkadry99/biblioteca/internal/metrics"
)

// ResilientOption configures a Resilient embedder.
type ResilientOption func(*Resilient)

// WithRPM caps requests per minute. Zero disables rate limiting.
func WithRPM(rpm int) ResilientOption {
	return func(r *Resilient) {
		if rpm > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(1, rpm/60))
		}
	}
}

// WithMaxTries sets the total number of attempts per text.
func WithMaxTries(n uint) ResilientOption {
	return func(r *Resilient) { r.maxTries = n }
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) ResilientOption {
	return func(r *Resilient) { r.initialInterval = d }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *zap.Logger) ResilientOption {
	return func(r *Resilient) { r.logger = logging.OrNop(l) }
}

// Resilient decorates an Embedder with rate limiting and retries of
// transient failures.
type Resilient struct {
	inner           Embedder
	limiter         *rate.Limiter
	maxTries        uint
	initialInterval time.Duration
	logger          *zap.Logger
}

// NewResilient wraps inner. Defaults: 4 attempts, 500ms initial backoff, no
// rate limit.
func NewResilient(inner Embedder, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		inner:           inner,
		maxTries:        4,
		initialInterval: 500 * time.Millisecond,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resilient) Name() string    { return r.inner.Name() }
func (r *Resilient) Dimensions() int { return r.inner.Dimensions() }

func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	attempt := 0
	operation := func() ([]float32, error) {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		v, err := r.inner.Embed(ctx, text)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		metrics.EmbeddingRequests.WithLabelValues("retry").Inc()
		r.logger.Debug("transient embedding failure",
			zap.String("model", r.inner.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initialInterval
	eb.MaxInterval = 10 * time.Second

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(r.maxTries),
	)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, unavailable(r.inner.Name(), err)
	}
	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()
	return checkVector(r.inner.Name(), v)
}

// IsTransient reports whether err is worth retrying: rate limits, server
// errors and network failures.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return transientStatus(statusErr.StatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
