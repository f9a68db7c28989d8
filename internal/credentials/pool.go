// Package credentials owns the rotating API key pool for the upstream provider
package credentials

import (
	"errors"
	"sync"
)

var ErrEmptyPool = errors.New("credential pool requires at least one api key")

// Pool is an ordered set of upstream API keys with a round robin cursor.
// Request handling only reads and rotates; the key list itself changes only
// through Replace on a configuration reload.
type Pool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

func NewPool(keys []string) (*Pool, error) {
	cleaned := clean(keys)
	if len(cleaned) == 0 {
		return nil, ErrEmptyPool
	}
	return &Pool{keys: cleaned}, nil
}

// Current returns the key at the cursor without advancing it, so one request's
// retries reuse the same key until something fails.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.cursor%len(p.keys)]
}

// Rotate advances to the next key. No-op for single key pools.
func (p *Pool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) > 1 {
		p.cursor = (p.cursor + 1) % len(p.keys)
	}
}

// Replace swaps the key list on config reload. The cursor resets so the new
// list starts from its first key.
func (p *Pool) Replace(keys []string) error {
	cleaned := clean(keys)
	if len(cleaned) == 0 {
		return ErrEmptyPool
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = cleaned
	p.cursor = 0
	return nil
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func clean(keys []string) []string {
	var out []string
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
