// Package ratelimit gates pipeline entry with a per key sliding window
package ratelimit

import (
	"context"
	"sync"
	"time"

	"atelier-api/internal/metrics"

	"go.uber.org/zap"
)

// Limiter admits or rejects one pipeline run for a key. Implementations must
// never admit more than MaxCalls runs inside any trailing Period, even under
// concurrent calls on the same key.
type Limiter interface {
	Admit(ctx context.Context, key string) (bool, error)
}

type Config struct {
	// MaxCalls of 0 disables limiting entirely: every call is admitted and no
	// window state is kept.
	MaxCalls int
	Period   time.Duration
}

// Memory is the single host limiter. One window per key, created lazily on
// first use. The outer mutex only guards the key map so calls on different
// keys never contend on each other's window.
type Memory struct {
	cfg Config
	log *zap.SugaredLogger
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

func NewMemory(cfg Config, log *zap.SugaredLogger) *Memory {
	return &Memory{
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		windows: map[string]*window{},
	}
}

// WithClock swaps the time source, for tests with synthetic clocks.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Admit(_ context.Context, key string) (bool, error) {
	if m.cfg.MaxCalls <= 0 {
		return true, nil
	}

	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}
	m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.cfg.Period)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Prune lazily, then check-and-append atomically under the window lock
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= m.cfg.MaxCalls {
		metrics.RateLimitRejections.WithLabelValues("memory").Inc()
		m.log.Infow("Rate limit reached", "key", key, "max_calls", m.cfg.MaxCalls, "period", m.cfg.Period.String())
		return false, nil
	}
	w.stamps = append(w.stamps, now)
	return true, nil
}
