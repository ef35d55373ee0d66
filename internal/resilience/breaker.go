// Package resilience provides retry and circuit breaker helpers for the
// outbound calls made by the fetcher and the probes.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a call is rejected because the host's
// breaker is open or saturated in half-open state.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerConfig controls the per-host circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures that
	// opens a breaker. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long an open breaker waits before letting a
	// probe request through. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes bounds the requests allowed in half-open state.
	// Default: 1.
	HalfOpenMaxProbes uint32

	// ShouldTrip decides which errors count as failures. Defaults to
	// IsTransient, so a 404 never opens a host's breaker.
	ShouldTrip func(err error) bool
}

// DefaultBreakerConfig returns the defaults used by the fetcher.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// HostBreakers keeps one circuit breaker per host.
type HostBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      BreakerConfig
}

// NewHostBreakers creates an empty breaker registry.
func NewHostBreakers(cfg BreakerConfig) *HostBreakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes == 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	return &HostBreakers{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for host, creating it on first use.
func (hb *HostBreakers) Get(host string) *gobreaker.CircuitBreaker {
	hb.mu.RLock()
	cb, ok := hb.breakers[host]
	hb.mu.RUnlock()
	if ok {
		return cb
	}

	hb.mu.Lock()
	defer hb.mu.Unlock()
	if cb, ok = hb.breakers[host]; ok {
		return cb
	}
	threshold := uint32(hb.cfg.FailureThreshold)
	shouldTrip := hb.cfg.ShouldTrip
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: hb.cfg.HalfOpenMaxProbes,
		Timeout:     hb.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || !shouldTrip(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Info("resilience: breaker state change",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	hb.breakers[host] = cb
	return cb
}

// States returns a snapshot of every breaker state keyed by host.
func (hb *HostBreakers) States() map[string]string {
	hb.mu.RLock()
	defer hb.mu.RUnlock()
	out := make(map[string]string, len(hb.breakers))
	for host, cb := range hb.breakers {
		out[host] = cb.State().String()
	}
	return out
}

// Execute runs fn through the breaker of host. A rejected call returns an
// error wrapping ErrCircuitOpen without invoking fn.
func Execute[T any](ctx context.Context, hb *HostBreakers, host string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	out, err := hb.Get(host).Execute(func() (any, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, eris.Wrapf(ErrCircuitOpen, "host %s", host)
	}
	if out == nil {
		return zero, err
	}
	return out.(T), err
}
