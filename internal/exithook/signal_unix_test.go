//go:build unix

package exithook

import (
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyOnSignal(t *testing.T) {
	r := NewRegistry()

	var called atomic.Bool
	_, err := r.Add("hook", func() { called.Store(true) })
	require.NoError(t, err)

	exited := make(chan int, 1)
	stop := r.NotifyOnSignal(func(code int) { exited <- code }, syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
		assert.True(t, called.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not trigger the exit hooks")
	}
}
