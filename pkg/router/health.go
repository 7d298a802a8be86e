package router

import (
	"sync"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

const (
	healthWindow     = 10
	healthMinSamples = 3
)

type sample struct {
	ok      bool
	latency time.Duration
}

// healthTracker keeps a sliding window of call outcomes per provider
// and derives a coarse health state from it.
type healthTracker struct {
	mu      sync.Mutex
	windows map[string][]sample
}

func newHealthTracker() *healthTracker {
	return &healthTracker{windows: make(map[string][]sample)}
}

func (h *healthTracker) observe(provider string, ok bool, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w := append(h.windows[provider], sample{ok: ok, latency: latency})
	if len(w) > healthWindow {
		w = w[len(w)-healthWindow:]
	}
	h.windows[provider] = w
}

// snapshot derives the current health of one provider.
func (h *healthTracker) snapshot(provider string) types.ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	w := h.windows[provider]
	ph := types.ProviderHealth{Provider: provider, State: types.ProviderStateUnknown, Samples: len(w)}
	if len(w) < healthMinSamples {
		return ph
	}

	failures := 0
	var total time.Duration
	for _, s := range w {
		if !s.ok {
			failures++
		}
		total += s.latency
	}
	ph.ErrorRate = float64(failures) / float64(len(w))
	ph.AvgLatency = total / time.Duration(len(w))

	// Degraded from 30% errors, unhealthy from 60%.
	switch {
	case ph.ErrorRate < 0.3:
		ph.State = types.ProviderStateHealthy
	case ph.ErrorRate < 0.6:
		ph.State = types.ProviderStateDegraded
	default:
		ph.State = types.ProviderStateUnhealthy
	}
	return ph
}

func (h *healthTracker) providers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.windows))
	for name := range h.windows {
		names = append(names, name)
	}
	return names
}
