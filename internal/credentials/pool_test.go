package credentials

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRoundRobin(t *testing.T) {
	p, err := NewPool([]string{"k1", "k2", "k3"})
	require.NoError(t, err)

	assert.Equal(t, "k1", p.Current())
	assert.Equal(t, "k1", p.Current(), "Current must not advance the cursor")

	p.Rotate()
	assert.Equal(t, "k2", p.Current())
	p.Rotate()
	assert.Equal(t, "k3", p.Current())
	p.Rotate()
	assert.Equal(t, "k1", p.Current(), "cursor wraps around")
}

func TestPoolSingleKeyRotateIsNoop(t *testing.T) {
	p, err := NewPool([]string{"only"})
	require.NoError(t, err)
	p.Rotate()
	p.Rotate()
	assert.Equal(t, "only", p.Current())
}

func TestPoolRejectsEmpty(t *testing.T) {
	_, err := NewPool(nil)
	assert.ErrorIs(t, err, ErrEmptyPool)

	_, err = NewPool([]string{"", ""})
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestPoolReplace(t *testing.T) {
	p, err := NewPool([]string{"a", "b"})
	require.NoError(t, err)
	p.Rotate()

	require.NoError(t, p.Replace([]string{"x"}))
	assert.Equal(t, "x", p.Current())
	assert.Equal(t, 1, p.Size())

	assert.ErrorIs(t, p.Replace(nil), ErrEmptyPool)
	assert.Equal(t, "x", p.Current(), "failed replace must leave the pool untouched")
}

func TestPoolConcurrentAccess(t *testing.T) {
	p, err := NewPool([]string{"a", "b", "c"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Current()
			p.Rotate()
		}()
	}
	wg.Wait()
	assert.Contains(t, []string{"a", "b", "c"}, p.Current())
}
