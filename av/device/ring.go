package device

import "sync"

// sampleRing is a bounded FIFO of interleaved samples. Writers never block:
// when the ring is full the oldest samples are overwritten.
type sampleRing struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []int16
	start   int
	size    int
	closed  bool
	dropped uint64
}

func newSampleRing(capacity int) *sampleRing {
	if capacity < 1 {
		capacity = 1
	}
	r := &sampleRing{buf: make([]int16, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Write appends samples, overwriting the oldest on overflow.
func (r *sampleRing) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	capacity := len(r.buf)
	if len(samples) > capacity {
		r.dropped += uint64(len(samples) - capacity)
		samples = samples[len(samples)-capacity:]
	}
	if over := r.size + len(samples) - capacity; over > 0 {
		r.start = (r.start + over) % capacity
		r.size -= over
		r.dropped += uint64(over)
	}
	for _, s := range samples {
		r.buf[(r.start+r.size)%capacity] = s
		r.size++
	}
	r.cond.Broadcast()
}

// ReadFull blocks until dst can be filled, capped at the ring capacity, or
// the ring is closed. It returns the number of samples copied.
func (r *sampleRing) ReadFull(dst []int16) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := len(dst)
	if want > len(r.buf) {
		want = len(r.buf)
	}
	for r.size < want && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return 0, false
	}
	return r.take(dst[:want]), true
}

// Drain copies what is available into dst without blocking and zero-fills
// the rest. It returns the number of real samples copied.
func (r *sampleRing) Drain(dst []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.take(dst)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return n
}

func (r *sampleRing) take(dst []int16) int {
	n := len(dst)
	if n > r.size {
		n = r.size
	}
	capacity := len(r.buf)
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(r.start+i)%capacity]
	}
	r.start = (r.start + n) % capacity
	r.size -= n
	return n
}

// Len returns the number of buffered samples.
func (r *sampleRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Dropped returns how many samples were overwritten before being read.
func (r *sampleRing) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close wakes blocked readers; later writes are ignored.
func (r *sampleRing) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cond.Broadcast()
}
