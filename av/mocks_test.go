package av

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errMock = errors.New("mock failure")

type callRecord struct {
	peerID       uint32
	audioBitRate uint32
	videoBitRate uint32
}

type controlRecord struct {
	peerID  uint32
	control CallControl
}

// mockTransport records every request the manager makes.
type mockTransport struct {
	mu       sync.Mutex
	calls    []callRecord
	answers  []callRecord
	controls []controlRecord
	frames   map[uint32]int
	lastPCM  map[uint32][]int16

	callErr    error
	answerErr  error
	controlErr error
	sendErr    map[uint32]error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		frames:  make(map[uint32]int),
		lastPCM: make(map[uint32][]int16),
		sendErr: make(map[uint32]error),
	}
}

func (t *mockTransport) Call(peerID, audioBitRate, videoBitRate uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.callErr != nil {
		return t.callErr
	}
	t.calls = append(t.calls, callRecord{peerID, audioBitRate, videoBitRate})
	return nil
}

func (t *mockTransport) Answer(peerID, audioBitRate, videoBitRate uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answerErr != nil {
		return t.answerErr
	}
	t.answers = append(t.answers, callRecord{peerID, audioBitRate, videoBitRate})
	return nil
}

func (t *mockTransport) CallControl(peerID uint32, control CallControl) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.controls = append(t.controls, controlRecord{peerID, control})
	return t.controlErr
}

func (t *mockTransport) SendAudioFrame(peerID uint32, pcm []int16, sampleCount int, channels uint8, rate uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErr[peerID]; err != nil {
		return err
	}
	t.frames[peerID]++
	t.lastPCM[peerID] = append([]int16(nil), pcm...)
	return nil
}

func (t *mockTransport) frameCount(peerID uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames[peerID]
}

func (t *mockTransport) controlsFor(peerID uint32) []CallControl {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []CallControl
	for _, c := range t.controls {
		if c.peerID == peerID {
			out = append(out, c.control)
		}
	}
	return out
}

func (t *mockTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *mockTransport) answerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.answers)
}

func (t *mockTransport) setSendErr(peerID uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr[peerID] = err
}

// mockMicrophone hands out mockCaptureStreams producing a constant sample.
type mockMicrophone struct {
	mu      sync.Mutex
	openErr error
	streams []*mockCaptureStream
	opens   []struct{ rate, channels, bufferSamples int }

	// block makes each stream's Read wait on the channel before returning.
	block chan struct{}
}

func (m *mockMicrophone) Open(rate, channels, bufferSamples int) (CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opens = append(m.opens, struct{ rate, channels, bufferSamples int }{rate, channels, bufferSamples})
	s := &mockCaptureStream{value: int16(len(m.streams) + 1), block: m.block}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *mockMicrophone) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

func (m *mockMicrophone) stream(i int) *mockCaptureStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[i]
}

type mockCaptureStream struct {
	value int16
	block chan struct{}

	readErr atomic.Pointer[error]
	reads   atomic.Int64
	closed  atomic.Bool
	// readAfterClose counts reads issued after Close, which must stay zero.
	readAfterClose atomic.Int64
}

func (s *mockCaptureStream) Read(pcm []int16) (int, error) {
	if s.closed.Load() {
		s.readAfterClose.Add(1)
	}
	if s.block != nil {
		<-s.block
	}
	s.reads.Add(1)
	if errp := s.readErr.Load(); errp != nil {
		return 0, *errp
	}
	for i := range pcm {
		pcm[i] = s.value
	}
	return len(pcm), nil
}

func (s *mockCaptureStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *mockCaptureStream) failReads(err error) {
	if err == nil {
		s.readErr.Store(nil)
		return
	}
	s.readErr.Store(&err)
}

// mockSpeaker records opened streams and written frames.
type mockSpeaker struct {
	mu      sync.Mutex
	openErr error
	streams []*mockPlaybackStream
}

func (s *mockSpeaker) Open(rate, channels int) (PlaybackStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	ps := &mockPlaybackStream{rate: rate, channels: channels}
	s.streams = append(s.streams, ps)
	return ps, nil
}

func (s *mockSpeaker) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *mockSpeaker) stream(i int) *mockPlaybackStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[i]
}

type mockPlaybackStream struct {
	rate     int
	channels int

	mu     sync.Mutex
	writes [][]int16
	closed bool
}

func (p *mockPlaybackStream) Write(pcm []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]int16(nil), pcm...))
	return nil
}

func (p *mockPlaybackStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *mockPlaybackStream) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func (p *mockPlaybackStream) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fixedTimeProvider returns a constant time.
type fixedTimeProvider struct{ t time.Time }

func (f fixedTimeProvider) Now() time.Time                  { return f.t }
func (f fixedTimeProvider) Since(t time.Time) time.Duration { return f.t.Sub(t) }

// testAudioConfig is a small, fast configuration: 80-sample frames polled
// every millisecond.
func testAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    8000,
		Channels:      1,
		FrameDuration: 10 * time.Millisecond,
		BufferFrames:  4,
		PaceInterval:  time.Millisecond,
	}
}
