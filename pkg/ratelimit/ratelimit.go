package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/metrics"
)

// Limiter gates outbound calls to one provider: a fixed pool of
// concurrency tickets, a minimum spacing between call starts, and a
// circuit breaker that sheds load after consecutive transient failures.
type Limiter struct {
	provider string

	slots chan struct{}

	mu          sync.Mutex
	minInterval time.Duration
	lastStart   time.Time

	breaker *gobreaker.CircuitBreaker
}

// Settings configures one provider limiter.
type Settings struct {
	MaxConcurrent    int
	MinInterval      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// NewLimiter creates a limiter for the named provider.
func NewLimiter(provider string, s Settings) *Limiter {
	if s.MaxConcurrent < 1 {
		s.MaxConcurrent = 1
	}
	if s.BreakerThreshold < 1 {
		s.BreakerThreshold = 5
	}
	if s.BreakerCooldown <= 0 {
		s.BreakerCooldown = 30 * time.Second
	}

	l := &Limiter{
		provider:    provider,
		slots:       make(chan struct{}, s.MaxConcurrent),
		minInterval: s.MinInterval,
	}
	for i := 0; i < s.MaxConcurrent; i++ {
		l.slots <- struct{}{}
	}

	threshold := uint32(s.BreakerThreshold)
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    provider,
		Timeout: s.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Permanent provider errors (auth, bad request) mean the
		// provider is reachable; only transient faults trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch errdefs.KindOf(err) {
			case errdefs.KindProviderTransient, errdefs.KindTimeout, errdefs.KindProviderUnavailable:
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithProvider(name).Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return l
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Acquire blocks until a concurrency ticket and the spacing window are
// both available, or ctx is done. The returned release function must be
// called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	timer := metrics.NewTimer()

	select {
	case <-l.slots:
	case <-ctx.Done():
		return nil, errdefs.Wrap(errdefs.KindCancelled, "cancelled while waiting for provider slot", ctx.Err())
	}

	if wait := l.spacingDelay(); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			l.slots <- struct{}{}
			return nil, errdefs.Wrap(errdefs.KindCancelled, "cancelled while waiting for provider spacing", ctx.Err())
		}
	}

	timer.ObserveDurationVec(metrics.RateLimitWait, l.provider)

	var once sync.Once
	return func() {
		once.Do(func() { l.slots <- struct{}{} })
	}, nil
}

// spacingDelay reserves the next start slot and returns how long the
// caller must sleep before it.
func (l *Limiter) spacingDelay() time.Duration {
	if l.minInterval <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	next := l.lastStart.Add(l.minInterval)
	if next.Before(now) {
		next = now
	}
	l.lastStart = next
	return next.Sub(now)
}

// Do runs fn through the circuit breaker. An open breaker is surfaced
// as ProviderUnavailable without invoking fn.
func (l *Limiter) Do(fn func() error) error {
	_, err := l.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errdefs.Newf(errdefs.KindProviderUnavailable, "provider %s circuit open", l.provider)
	}
	return err
}

// State returns the breaker's current state.
func (l *Limiter) State() gobreaker.State {
	return l.breaker.State()
}

// Manager holds one limiter per configured provider.
type Manager struct {
	limiters map[string]*Limiter
}

// NewManager builds limiters for every provider in the settings map.
func NewManager(settings map[string]Settings) *Manager {
	m := &Manager{limiters: make(map[string]*Limiter, len(settings))}
	for name, s := range settings {
		m.limiters[name] = NewLimiter(name, s)
	}
	return m
}

// Limiter returns the limiter for a provider, or nil if unknown.
func (m *Manager) Limiter(provider string) *Limiter {
	return m.limiters[provider]
}
