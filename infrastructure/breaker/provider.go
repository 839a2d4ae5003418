package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/renatodap/studysharper-sub001/domain/ai"
)

// Config holds circuit breaker behavior for a wrapped provider.
type Config struct {
	Enabled          bool
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		MaxRequests:      3,
	}
}

// Provider wraps an ai.Provider with a circuit breaker. While the circuit
// is open the provider reports unavailable and calls fail fast, which
// lets the router cross to the next tier without waiting on a dead
// backend. Invalid-argument errors do not count as failures.
type Provider struct {
	inner   ai.Provider
	config  Config
	breaker *gobreaker.CircuitBreaker
}

func Wrap(inner ai.Provider, config Config) *Provider {
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("provider-%s", inner.Name()),
		MaxRequests: config.MaxRequests,
		Interval:    0, // counts clear on timeout, not on a schedule
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"provider":   name,
				"from_state": from,
				"to_state":   to,
			}).Info("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Caller mistakes say nothing about backend health.
			return err == nil || errors.Is(err, ai.ErrInvalidArgument)
		},
	}

	return &Provider{
		inner:   inner,
		config:  config,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (p *Provider) Name() string { return p.inner.Name() }

func (p *Provider) Cost(tokens int, kind ai.TokenKind) float64 {
	return p.inner.Cost(tokens, kind)
}

// Available combines the inner liveness check with the breaker state.
func (p *Provider) Available(ctx context.Context) bool {
	if p.config.Enabled && p.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return p.inner.Available(ctx)
}

func (p *Provider) Chat(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	if !p.config.Enabled {
		return p.inner.Chat(ctx, req)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		return nil, p.mapBreakerError(err)
	}
	return result.(*ai.Response), nil
}

func (p *Provider) Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error) {
	if !p.config.Enabled {
		return p.inner.Embed(ctx, texts)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.Embed(ctx, texts)
	})
	if err != nil {
		return nil, p.mapBreakerError(err)
	}
	return result.(*ai.EmbeddingResponse), nil
}

// State returns the breaker state for monitoring.
func (p *Provider) State() gobreaker.State {
	return p.breaker.State()
}

func (p *Provider) mapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logrus.WithFields(logrus.Fields{
			"provider": p.inner.Name(),
			"state":    p.breaker.State(),
		}).Warn("Circuit breaker rejecting requests, failing fast")
		return fmt.Errorf("%w: circuit breaker open for %s", ai.ErrProviderUnavailable, p.inner.Name())
	}
	return err
}
