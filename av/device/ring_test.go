package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRingOverwritesOldest(t *testing.T) {
	r := newSampleRing(4)
	r.Write([]int16{1, 2, 3})
	r.Write([]int16{4, 5})

	assert.Equal(t, 4, r.Len())
	assert.Equal(t, uint64(1), r.Dropped())

	dst := make([]int16, 4)
	n, ok := r.ReadFull(dst)
	require.True(t, ok)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int16{2, 3, 4, 5}, dst)
}

func TestSampleRingOversizedWrite(t *testing.T) {
	r := newSampleRing(3)
	r.Write([]int16{1, 2, 3, 4, 5})

	dst := make([]int16, 3)
	n, ok := r.ReadFull(dst)
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int16{3, 4, 5}, dst)
	assert.Equal(t, uint64(2), r.Dropped())
}

func TestSampleRingReadFullBlocks(t *testing.T) {
	r := newSampleRing(8)
	result := make(chan []int16, 1)

	go func() {
		dst := make([]int16, 4)
		n, _ := r.ReadFull(dst)
		result <- dst[:n]
	}()

	r.Write([]int16{1, 2})
	select {
	case <-result:
		t.Fatal("read returned before a full frame was buffered")
	case <-time.After(20 * time.Millisecond):
	}

	r.Write([]int16{3, 4})
	select {
	case got := <-result:
		assert.Equal(t, []int16{1, 2, 3, 4}, got)
	case <-time.After(time.Second):
		t.Fatal("read did not return")
	}
}

func TestSampleRingReadCappedAtCapacity(t *testing.T) {
	r := newSampleRing(2)
	r.Write([]int16{7, 8})

	dst := make([]int16, 10)
	n, ok := r.ReadFull(dst)
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestSampleRingCloseUnblocks(t *testing.T) {
	r := newSampleRing(4)
	done := make(chan bool, 1)

	go func() {
		_, ok := r.ReadFull(make([]int16, 4))
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close did not wake the reader")
	}

	r.Write([]int16{1})
	assert.Equal(t, 0, r.Len(), "writes after close are ignored")
}

func TestSampleRingDrainPadsSilence(t *testing.T) {
	r := newSampleRing(8)
	r.Write([]int16{9, 9})

	dst := []int16{5, 5, 5, 5}
	assert.Equal(t, 2, r.Drain(dst))
	assert.Equal(t, []int16{9, 9, 0, 0}, dst)
	assert.Equal(t, 0, r.Drain(dst))
	assert.Equal(t, []int16{0, 0, 0, 0}, dst)
}
