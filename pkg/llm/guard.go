package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/datachat-io/datachat-engine/pkg/retry"
)

// guardedClient wraps a Client with a rate limiter, transient-error
// retries, and a circuit breaker. The limiter smooths bursts against
// provider quotas; the breaker stops hammering a provider that is down.
type guardedClient struct {
	inner   Client
	limiter *rate.Limiter
	breaker *CircuitBreaker
	retries *retry.Config
}

// Guard wraps client with the given requests-per-second limit and a
// circuit breaker. rps <= 0 disables rate limiting.
func Guard(client Client, rps float64, breaker *CircuitBreaker) Client {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	return &guardedClient{
		inner:   client,
		limiter: limiter,
		breaker: breaker,
		retries: retry.DefaultConfig(),
	}
}

// Complete implements Client.
func (g *guardedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if ok, err := g.breaker.Allow(); !ok {
		return nil, NewError(ErrorTypeEndpoint, "provider unavailable", true, err)
	}

	var result *CompletionResult
	err := retry.DoIfRetryable(ctx, g.retries, func() error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return ClassifyError(err)
			}
		}
		var callErr error
		result, callErr = g.inner.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		// Only provider-side failures count against the breaker; an
		// auth or model misconfiguration will not heal by backing off.
		t := GetErrorType(err)
		if t == ErrorTypeEndpoint || t == ErrorTypeRateLimit || t == ErrorTypeUnknown {
			g.breaker.RecordFailure()
		}
		return nil, err
	}

	g.breaker.RecordSuccess()
	return result, nil
}

// GetModel implements Client.
func (g *guardedClient) GetModel() string {
	return g.inner.GetModel()
}
