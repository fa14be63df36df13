package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeapPopsLowestHandleFirst(t *testing.T) {
	h := Heap[int32]{}
	for _, n := range []int32{7, 2, 9, 0, 4, 1} {
		h.Push(n)
	}
	for _, want := range []int32{0, 1, 2, 4, 7, 9} {
		assert.Equal(t, want, h.Pop())
	}
	assert.Equal(t, 0, h.Len())

	// freed slots interleaved with reuse
	h.Push(3)
	h.Push(1)
	assert.Equal(t, int32(1), h.Pop())
	h.Push(0)
	assert.Equal(t, int32(0), h.Pop())
	assert.Equal(t, int32(3), h.Pop())
}
