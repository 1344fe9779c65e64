package av

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultJoinTimeout bounds how long Stop waits for the capture goroutine.
// A device read that never returns must not stall call control; past the
// timeout the goroutine keeps ownership of the stream and closes it itself
// when the read finally returns.
const DefaultJoinTimeout = 2 * time.Second

// CaptureLoop owns the microphone for one "in any call" period. It reads
// one frame per iteration and hands it to every session accepting audio.
type CaptureLoop struct {
	cfg       AudioConfig
	mic       Microphone
	registry  *Registry
	transport Transport
	metrics   *instruments

	joinTimeout time.Duration

	// mu serializes Start and Stop.
	mu      sync.Mutex
	current *captureRun

	iterations atomic.Uint64
}

// captureRun is the state of one capture goroutine. A run abandoned by a
// timed-out Stop keeps its own flag, so a later Start cannot revive it.
type captureRun struct {
	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCaptureLoop creates a stopped capture loop.
func NewCaptureLoop(cfg AudioConfig, mic Microphone, registry *Registry, transport Transport) *CaptureLoop {
	return newCaptureLoop(cfg, mic, registry, transport, newInstruments())
}

func newCaptureLoop(cfg AudioConfig, mic Microphone, registry *Registry, transport Transport, metrics *instruments) *CaptureLoop {
	return &CaptureLoop{
		cfg:         cfg,
		mic:         mic,
		registry:    registry,
		transport:   transport,
		metrics:     metrics,
		joinTimeout: DefaultJoinTimeout,
	}
}

// Start opens the microphone and launches the capture goroutine. Starting a
// running loop is a no-op.
func (l *CaptureLoop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		return nil
	}

	if err := l.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid audio config: %w", err)
	}

	stream, err := l.mic.Open(l.cfg.SampleRate, l.cfg.Channels, l.cfg.BufferSamples())
	if err != nil {
		l.metrics.deviceFailed("microphone")
		logrus.WithFields(logrus.Fields{
			"function":    "CaptureLoop.Start",
			"sample_rate": l.cfg.SampleRate,
			"channels":    l.cfg.Channels,
			"error":       err.Error(),
		}).Error("Failed to open microphone")
		return fmt.Errorf("%w: open microphone: %w", ErrDevice, err)
	}

	run := &captureRun{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	run.running.Store(true)
	l.current = run

	logrus.WithFields(logrus.Fields{
		"function":       "CaptureLoop.Start",
		"sample_rate":    l.cfg.SampleRate,
		"channels":       l.cfg.Channels,
		"frame_duration": l.cfg.FrameDuration,
		"frame_samples":  l.cfg.FrameSamples(),
		"buffer_frames":  l.cfg.BufferFrames,
		"pace_interval":  l.cfg.PaceInterval,
		"latency":        l.cfg.Latency(),
	}).Info("Capture loop started")

	go l.run(stream, run)
	return nil
}

// Stop clears the running flag and joins the goroutine. The stream is
// closed by the goroutine on exit, so it is never released while a read is
// still in flight. Stopping a stopped loop is a no-op.
func (l *CaptureLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	run := l.current
	if run == nil {
		return
	}
	l.current = nil
	run.running.Store(false)
	close(run.stop)

	select {
	case <-run.done:
		logrus.WithFields(logrus.Fields{
			"function":   "CaptureLoop.Stop",
			"iterations": l.iterations.Load(),
		}).Info("Capture loop stopped")
	case <-time.After(l.joinTimeout):
		logrus.WithFields(logrus.Fields{
			"function":     "CaptureLoop.Stop",
			"join_timeout": l.joinTimeout,
		}).Warn("Capture loop did not exit in time, microphone will be released when the pending read returns")
	}
}

// IsRunning reports whether the loop has been started and not stopped.
func (l *CaptureLoop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Iterations returns the number of completed iterations.
func (l *CaptureLoop) Iterations() uint64 {
	return l.iterations.Load()
}

func (l *CaptureLoop) run(stream CaptureStream, run *captureRun) {
	defer close(run.done)
	defer func() {
		if err := stream.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CaptureLoop.run",
				"error":    err.Error(),
			}).Warn("Failed to close microphone")
		}
	}()

	buf := make([]int16, l.cfg.FrameSamples())
	var failing bool

	for run.running.Load() {
		failing = l.iterate(run, stream, buf, failing)
		l.iterations.Add(1)

		if l.cfg.PaceInterval > 0 {
			timer := time.NewTimer(l.cfg.PaceInterval)
			select {
			case <-run.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// iterate performs one read and fan-out. It returns whether the device is
// currently failing so repeated errors are logged once at warn level.
// A frame read after the run was stopped is dropped.
func (l *CaptureLoop) iterate(run *captureRun, stream CaptureStream, buf []int16, failing bool) bool {
	n, err := stream.Read(buf)
	if err != nil {
		l.metrics.deviceFailed("microphone")
		entry := logrus.WithFields(logrus.Fields{
			"function": "CaptureLoop.iterate",
			"error":    fmt.Errorf("%w: %w", ErrDevice, err).Error(),
		})
		if failing {
			entry.Debug("Microphone read still failing")
		} else {
			entry.Warn("Microphone read failed, continuing")
		}
		return true
	}
	if failing {
		logrus.WithFields(logrus.Fields{
			"function": "CaptureLoop.iterate",
		}).Info("Microphone read recovered")
	}
	if n == 0 || !run.running.Load() {
		return false
	}

	l.metrics.frameCaptured()
	l.fanOut(buf[:n])
	return false
}

// fanOut delivers one frame to every active session. The snapshot is taken
// once and the registry lock is not held while sending.
func (l *CaptureLoop) fanOut(frame []int16) {
	channels := l.cfg.Channels
	sampleCount := len(frame) / channels

	for _, s := range l.registry.Snapshot() {
		if !s.AcceptingAudio() {
			continue
		}
		err := l.transport.SendAudioFrame(s.PeerID, frame, sampleCount, uint8(channels), uint32(l.cfg.SampleRate))
		if err != nil {
			l.metrics.deliveryFailed()
			logrus.WithFields(logrus.Fields{
				"function":   "CaptureLoop.fanOut",
				"peer_id":    s.PeerID,
				"session_id": s.SessionID,
				"error":      deliveryError(err).Error(),
			}).Warn("Failed to deliver audio frame")
			continue
		}
		l.metrics.frameDelivered()
		logrus.WithFields(logrus.Fields{
			"function":     "CaptureLoop.fanOut",
			"peer_id":      s.PeerID,
			"sample_count": sampleCount,
		}).Trace("Delivered audio frame")
	}
}

func deliveryError(err error) error {
	if errors.Is(err, ErrDelivery) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDelivery, err)
}
