package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the per-agent circuit breakers.
type BreakerConfig struct {
	// ConsecutiveFailures is the failure count that trips the breaker open.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before testing recovery.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probe requests allowed half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// breakerRegistry manages one circuit breaker per agent ID. An agent whose
// invocations keep failing is short-circuited so its tasks fail fast instead
// of burning their full timeout on every retry.
type breakerRegistry struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerRegistry(cfg BreakerConfig) *breakerRegistry {
	if cfg.ConsecutiveFailures == 0 {
		cfg = DefaultBreakerConfig()
	}
	return &breakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *breakerRegistry) get(agentID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentID,
		MaxRequests: r.cfg.HalfOpenRequests,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "agent", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A cancelled or timed-out task says nothing about the agent's health.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[agentID] = cb
	return cb
}

// execute runs the invocation through the agent's breaker. Breaker-open
// errors surface as ordinary invocation errors; the coordinator treats them
// as transient and applies the normal retry policy.
func (r *breakerRegistry) execute(ctx context.Context, agentID string, w Worker, inv Invocation) (any, error) {
	cb := r.get(agentID)

	out, err := cb.Execute(func() (any, error) {
		return w.Invoke(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
