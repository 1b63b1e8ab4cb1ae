package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/logging"
)

// RetryingProvider retries completions that failed because the provider was
// overloaded or rate limited.
type RetryingProvider struct {
	provider        Provider
	maxTries        uint
	initialInterval time.Duration
	logger          *zap.Logger
}

// NewRetryingProvider wraps provider. maxTries counts the first attempt.
func NewRetryingProvider(provider Provider, maxTries uint, initialInterval time.Duration, logger *zap.Logger) *RetryingProvider {
	if maxTries == 0 {
		maxTries = 1
	}
	return &RetryingProvider{
		provider:        provider,
		maxTries:        maxTries,
		initialInterval: initialInterval,
		logger:          logging.OrNop(logger),
	}
}

func (r *RetryingProvider) Name() string {
	return r.provider.Name()
}

func (r *RetryingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	operation := func() (*CompletionResponse, error) {
		resp, err := r.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		r.logger.Warn("retrying completion",
			zap.String("provider", r.provider.Name()),
			zap.String("category", string(Classify(err))),
			zap.Error(err))
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initialInterval
	eb.MaxInterval = 20 * time.Second

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(r.maxTries),
	)
}
