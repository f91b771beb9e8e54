package exithook

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRunsHooksOnce(t *testing.T) {
	r := NewRegistry()

	var calls atomic.Int32
	_, err := r.Add("first", func() { calls.Add(1) })
	require.NoError(t, err)
	_, err = r.Add("second", func() { calls.Add(1) })
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), calls.Load())
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()

	var called atomic.Bool
	h, err := r.Add("removed", func() { called.Store(true) })
	require.NoError(t, err)
	assert.Equal(t, "removed", h.Name())
	assert.Equal(t, 1, r.Len())

	require.NoError(t, h.Remove())
	assert.ErrorIs(t, h.Remove(), ErrNotRegistered)
	assert.Equal(t, 0, r.Len())

	r.Run()
	assert.False(t, called.Load())
}

func TestRegistryRejectsChangesWhileExiting(t *testing.T) {
	r := NewRegistry()

	var removeErr error
	var h *Handle
	h, err := r.Add("self-removing", func() { removeErr = h.Remove() })
	require.NoError(t, err)

	r.Run()

	assert.ErrorIs(t, removeErr, ErrExiting)
	_, err = r.Add("late", func() {})
	assert.ErrorIs(t, err, ErrExiting)
}

func TestRegistryRecoversPanickingHook(t *testing.T) {
	r := NewRegistry()

	var called atomic.Bool
	_, err := r.Add("panics", func() { panic("boom") })
	require.NoError(t, err)
	_, err = r.Add("survives", func() { called.Store(true) })
	require.NoError(t, err)

	assert.NotPanics(t, r.Run)
	assert.True(t, called.Load())
}
