package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadySetOrderAndDeduplication(t *testing.T) {
	set := newReadySet()
	owner := newFakeSelector()

	a := newKey(1, OpRead|OpWrite, processorFunc(func(*Key) {}), owner)
	b := newKey(2, OpRead, processorFunc(func(*Key) {}), owner)

	assert.True(t, set.add(a, OpRead))
	assert.True(t, set.add(b, OpRead))
	assert.False(t, set.add(a, OpWrite))
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, OpRead|OpWrite, a.Ready())

	key, ok := set.Pop()
	assert.True(t, ok)
	assert.Same(t, a, key)
	assert.False(t, set.Contains(a))

	assert.True(t, set.add(a, OpWrite))
	assert.Equal(t, OpWrite, a.Ready())
	assert.True(t, a.Writable())
	assert.False(t, a.Readable())

	assert.True(t, set.Remove(b))
	assert.False(t, set.Remove(b))

	key, ok = set.Pop()
	assert.True(t, ok)
	assert.Same(t, a, key)

	_, ok = set.Pop()
	assert.False(t, ok)
}

func TestOpsString(t *testing.T) {
	assert.Equal(t, "none", Ops(0).String())
	assert.Equal(t, "read", OpRead.String())
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "read|write", (OpRead | OpWrite).String())
	assert.Equal(t, "Ops(0x4)", Ops(4).String())
}
