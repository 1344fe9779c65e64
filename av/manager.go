package av

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Manager is the call manager facade. It owns the session registry, the
// capture loop and the playback sink, and keeps them consistent: the
// capture loop runs exactly while at least one session exists.
//
// Control operations (PlaceCall, Answer, HangUp, Shutdown) and transport
// events (OnIncomingCall, OnCallStateChanged) may be invoked from any
// goroutine. Each registry mutation and the capture start or stop it
// triggers happen under one lifecycle lock, so no interleaving can leave
// the registry empty with capture running, or the reverse.
type Manager struct {
	transport Transport
	mic       Microphone
	registry  *Registry
	sink      *PlaybackSink

	cfg          AudioConfig
	audioBitRate uint32
	videoBitRate uint32
	answerPolicy AnswerPolicy
	joinTimeout  time.Duration
	timeProvider TimeProvider

	metrics *instruments
	tracer  trace.Tracer

	// lifecycleMu serializes registry mutations with capture start/stop.
	lifecycleMu sync.Mutex
	capture     *CaptureLoop

	operational atomic.Bool

	callbackMu    sync.RWMutex
	eventCallback func(Event)
}

// Option configures a Manager.
type Option func(*Manager)

// WithAudioConfig replaces the default capture parameters.
func WithAudioConfig(cfg AudioConfig) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithBitRates sets the bit rates, in kbit/s, passed to the transport when
// placing and answering calls.
func WithBitRates(audio, video uint32) Option {
	return func(m *Manager) {
		m.audioBitRate = audio
		m.videoBitRate = video
	}
}

// WithAnswerPolicy sets the incoming call policy. The policy runs under
// the lifecycle lock and must not block; to prompt a user, return false
// and call Answer later.
func WithAnswerPolicy(policy AnswerPolicy) Option {
	return func(m *Manager) {
		if policy != nil {
			m.answerPolicy = policy
		}
	}
}

// WithEventCallback registers the event callback at construction.
func WithEventCallback(fn func(Event)) Option {
	return func(m *Manager) { m.eventCallback = fn }
}

// WithJoinTimeout bounds how long stopping capture waits for the capture
// goroutine.
func WithJoinTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.joinTimeout = d
		}
	}
}

// WithTimeProvider sets the clock used for session start times and events.
func WithTimeProvider(tp TimeProvider) Option {
	return func(m *Manager) {
		if tp != nil {
			m.timeProvider = tp
		}
	}
}

// NewManager creates an operational manager with no sessions.
//
// Parameters:
//   - transport: call signaling and audio delivery
//   - mic: source of outgoing audio frames
//   - speaker: destination of inbound audio frames
//
// Devices are not opened until the first call starts.
func NewManager(transport Transport, mic Microphone, speaker Speaker, opts ...Option) (*Manager, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if mic == nil {
		return nil, errors.New("microphone cannot be nil")
	}
	if speaker == nil {
		return nil, errors.New("speaker cannot be nil")
	}

	metrics := newInstruments()
	m := &Manager{
		transport:    transport,
		mic:          mic,
		registry:     NewRegistry(),
		sink:         newPlaybackSink(speaker, metrics),
		cfg:          DefaultAudioConfig(),
		audioBitRate: DefaultAudioBitRate,
		videoBitRate: DefaultVideoBitRate,
		answerPolicy: AlwaysAnswer,
		joinTimeout:  DefaultJoinTimeout,
		timeProvider: DefaultTimeProvider{},
		metrics:      metrics,
		tracer:       otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio config: %w", err)
	}
	m.registry.now = m.timeProvider.Now
	m.operational.Store(true)

	logrus.WithFields(logrus.Fields{
		"function":       "NewManager",
		"sample_rate":    m.cfg.SampleRate,
		"channels":       m.cfg.Channels,
		"frame_duration": m.cfg.FrameDuration,
		"audio_bit_rate": m.audioBitRate,
		"video_bit_rate": m.videoBitRate,
	}).Info("Call manager created")

	return m, nil
}

// SetEventCallback registers the callback invoked after each state change,
// or nil to unregister. Callbacks run after all locks are released.
func (m *Manager) SetEventCallback(fn func(Event)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.eventCallback = fn
}

// PlaceCall requests an outgoing audio call and registers a pending
// session. Capture starts if this is the first call. The session is
// audio-only even when a video bit rate is configured.
func (m *Manager) PlaceCall(peerID uint32) (err error) {
	_, span := m.startSpan("Manager.PlaceCall", peerID)
	defer func() { endSpan(span, err) }()

	var events []Event
	defer func() { m.emit(events) }()

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.operational.Load() {
		return ErrManagerShutdown
	}
	if m.registry.Contains(peerID) {
		return fmt.Errorf("place call to peer %d: %w", peerID, ErrCallAlreadyActive)
	}

	if err := m.transport.Call(peerID, m.audioBitRate, m.videoBitRate); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PlaceCall",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Warn("Transport rejected call request")
		return fmt.Errorf("request call to peer %d: %w", peerID, err)
	}

	m.registry.insertOrUpdate(peerID, DirectionOutgoing, true, false)
	m.metrics.sessionAdded()
	events = m.appendSessionEvent(events, EventSessionStarted, peerID)

	if err := m.ensureCaptureLocked(&events); err != nil {
		events = m.rollbackLocked(events, peerID)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "PlaceCall",
		"peer_id":       peerID,
		"session_count": m.registry.Len(),
	}).Info("Call placed")
	return nil
}

// Answer accepts a pending incoming call held by the answer policy.
func (m *Manager) Answer(peerID uint32) (err error) {
	_, span := m.startSpan("Manager.Answer", peerID)
	defer func() { endSpan(span, err) }()

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.operational.Load() {
		return ErrManagerShutdown
	}
	if !m.registry.Contains(peerID) {
		return fmt.Errorf("answer peer %d: %w", peerID, ErrNoSession)
	}
	if err := m.transport.Answer(peerID, m.audioBitRate, m.videoBitRate); err != nil {
		return fmt.Errorf("answer peer %d: %w", peerID, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Answer",
		"peer_id":  peerID,
	}).Info("Call answered")
	return nil
}

// HangUp ends the call with the peer. Unless byRemote is set, a cancel is
// sent first; the session is removed even if that send fails. Capture
// stops when the last session ends.
func (m *Manager) HangUp(peerID uint32, byRemote bool) (err error) {
	_, span := m.startSpan("Manager.HangUp", peerID)
	span.SetAttributes(attribute.Bool("by_remote", byRemote))
	defer func() { endSpan(span, err) }()

	var events []Event
	defer func() { m.emit(events) }()

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	info, exists := m.registry.Get(peerID)
	if !exists {
		return fmt.Errorf("hang up peer %d: %w", peerID, ErrNoSession)
	}

	if !byRemote {
		m.sendCancel(peerID)
	}

	m.registry.Remove(peerID)
	m.metrics.sessionRemoved(1)
	events = append(events, sessionEvent(EventSessionEnded, info, m.timeProvider.Now()))

	if m.registry.IsEmpty() {
		m.stopCaptureLocked(&events)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "HangUp",
		"peer_id":       peerID,
		"by_remote":     byRemote,
		"session_count": m.registry.Len(),
	}).Info("Call ended")
	return nil
}

// ToggleCall places a call when none exists with the peer and hangs up an
// existing one. It reports whether a call is in progress afterwards.
func (m *Manager) ToggleCall(peerID uint32) (bool, error) {
	if m.HasSession(peerID) {
		if err := m.HangUp(peerID, false); err != nil && !errors.Is(err, ErrNoSession) {
			return true, err
		}
		return false, nil
	}
	if err := m.PlaceCall(peerID); err != nil {
		if errors.Is(err, ErrCallAlreadyActive) {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// Shutdown releases every session and stops capture. Remote peers are
// sent a best-effort cancel. Afterwards the manager rejects new calls and
// ignores transport events. Shutdown is idempotent.
func (m *Manager) Shutdown() {
	_, span := m.tracer.Start(context.Background(), "Manager.Shutdown")
	defer span.End()

	var events []Event
	defer func() { m.emit(events) }()

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	wasOperational := m.operational.Swap(false)

	now := m.timeProvider.Now()
	for _, info := range m.registry.Snapshot() {
		m.sendCancel(info.PeerID)
		events = append(events, sessionEvent(EventSessionEnded, info, now))
	}
	removed := m.registry.Clear()
	m.metrics.sessionRemoved(len(removed))
	m.stopCaptureLocked(&events)

	if wasOperational {
		logrus.WithFields(logrus.Fields{
			"function":         "Shutdown",
			"sessions_removed": len(removed),
		}).Info("Call manager shut down")
	}
}

// OnIncomingCall handles a call offered by a peer. A session is created
// (or its capabilities updated), capture is ensured, and the answer policy
// decides whether to answer now.
func (m *Manager) OnIncomingCall(peerID uint32, audio, video bool) {
	if !m.operational.Load() {
		logrus.WithFields(logrus.Fields{
			"function": "OnIncomingCall",
			"peer_id":  peerID,
		}).Debug("Ignoring incoming call after shutdown")
		return
	}

	_, span := m.startSpan("Manager.OnIncomingCall", peerID)
	span.SetAttributes(attribute.Bool("audio", audio), attribute.Bool("video", video))
	var spanErr error
	defer func() { endSpan(span, spanErr) }()

	var events []Event
	defer func() { m.emit(events) }()

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.operational.Load() {
		return
	}

	created := m.registry.insertOrUpdate(peerID, DirectionIncoming, audio, video)
	if created {
		m.metrics.sessionAdded()
		events = m.appendSessionEvent(events, EventSessionStarted, peerID)
	} else {
		events = m.appendSessionEvent(events, EventSessionUpdated, peerID)
	}

	if err := m.ensureCaptureLocked(&events); err != nil {
		spanErr = err
		events = m.rollbackLocked(events, peerID)
		return
	}

	if !m.answerPolicy(peerID, audio, video) {
		logrus.WithFields(logrus.Fields{
			"function": "OnIncomingCall",
			"peer_id":  peerID,
		}).Info("Incoming call held for answer")
		return
	}

	if err := m.transport.Answer(peerID, m.audioBitRate, m.videoBitRate); err != nil {
		spanErr = err
		logrus.WithFields(logrus.Fields{
			"function": "OnIncomingCall",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Warn("Failed to answer incoming call")
		events = m.rollbackLocked(events, peerID)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":      "OnIncomingCall",
		"peer_id":       peerID,
		"audio_enabled": audio,
		"video_enabled": video,
		"session_count": m.registry.Len(),
	}).Info("Incoming call answered")
}

// OnCallStateChanged handles a state bitmask reported by the transport.
// A terminal update removes the session; an accepting-audio update makes
// it active. The two are checked independently.
func (m *Manager) OnCallStateChanged(peerID uint32, flags StateFlags) {
	if !m.operational.Load() {
		return
	}

	_, span := m.startSpan("Manager.OnCallStateChanged", peerID)
	span.SetAttributes(attribute.String("flags", flags.String()))
	defer span.End()

	var events []Event
	defer func() { m.emit(events) }()

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.operational.Load() {
		return
	}

	ev := flags.Decode()
	logrus.WithFields(logrus.Fields{
		"function": "OnCallStateChanged",
		"peer_id":  peerID,
		"flags":    flags.String(),
	}).Debug("Call state changed")

	if ev.Terminal {
		if info, exists := m.registry.Get(peerID); exists {
			m.registry.Remove(peerID)
			m.metrics.sessionRemoved(1)
			events = append(events, sessionEvent(EventSessionEnded, info, m.timeProvider.Now()))
			logrus.WithFields(logrus.Fields{
				"function": "OnCallStateChanged",
				"peer_id":  peerID,
				"flags":    flags.String(),
			}).Info("Call finished by peer")
		}
		if m.registry.IsEmpty() {
			m.stopCaptureLocked(&events)
		}
	}

	if ev.ReadyForAudio {
		before, exists := m.registry.Get(peerID)
		if m.registry.MarkReadyForAudio(peerID) && exists && before.Phase != PhaseActive {
			events = m.appendSessionEvent(events, EventSessionActive, peerID)
			logrus.WithFields(logrus.Fields{
				"function": "OnCallStateChanged",
				"peer_id":  peerID,
			}).Info("Peer accepting audio")
		}
	}
}

// ReceiveAudioFrame plays one inbound frame. Frames from peers without a
// session are dropped with ErrNoSession.
func (m *Manager) ReceiveAudioFrame(peerID uint32, pcm []int16, channels, rate int) error {
	if !m.registry.Contains(peerID) {
		return fmt.Errorf("audio from peer %d: %w", peerID, ErrNoSession)
	}
	return m.sink.Write(pcm, channels, rate)
}

// HasSession reports whether a call with the peer is in progress.
func (m *Manager) HasSession(peerID uint32) bool {
	return m.registry.Contains(peerID)
}

// Session returns a copy of the peer's session.
func (m *Manager) Session(peerID uint32) (SessionInfo, bool) {
	return m.registry.Get(peerID)
}

// Sessions returns copies of every session ordered by peer id.
func (m *Manager) Sessions() []SessionInfo {
	return m.registry.Snapshot()
}

// IsCapturing reports whether the capture loop is running.
func (m *Manager) IsCapturing() bool {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.capture != nil && m.capture.IsRunning()
}

// IsOperational reports whether Shutdown has not yet been called.
func (m *Manager) IsOperational() bool {
	return m.operational.Load()
}

// Config returns the capture parameters.
func (m *Manager) Config() AudioConfig {
	return m.cfg
}

// ensureCaptureLocked starts a capture loop if none is running and arms
// playback. Must be called with lifecycleMu held.
func (m *Manager) ensureCaptureLocked(events *[]Event) error {
	if m.capture != nil {
		return nil
	}
	loop := newCaptureLoop(m.cfg, m.mic, m.registry, m.transport, m.metrics)
	loop.joinTimeout = m.joinTimeout
	if err := loop.Start(); err != nil {
		return err
	}
	m.capture = loop
	m.sink.Arm()
	*events = append(*events, captureEvent(EventCaptureStarted, m.timeProvider.Now()))
	return nil
}

// stopCaptureLocked stops the capture loop and releases playback. Must be
// called with lifecycleMu held.
func (m *Manager) stopCaptureLocked(events *[]Event) {
	if m.capture != nil {
		m.capture.Stop()
		m.capture = nil
		*events = append(*events, captureEvent(EventCaptureStopped, m.timeProvider.Now()))
	}
	// Close errors are logged by the sink.
	_ = m.sink.Close()
}

// rollbackLocked undoes a session whose call could not proceed, tells the
// peer, and stops capture if nothing else is left.
func (m *Manager) rollbackLocked(events []Event, peerID uint32) []Event {
	info, exists := m.registry.Get(peerID)
	if exists {
		m.registry.Remove(peerID)
		m.metrics.sessionRemoved(1)
		events = append(events, sessionEvent(EventSessionEnded, info, m.timeProvider.Now()))
	}
	m.sendCancel(peerID)
	if m.registry.IsEmpty() {
		m.stopCaptureLocked(&events)
	}
	return events
}

func (m *Manager) sendCancel(peerID uint32) {
	if err := m.transport.CallControl(peerID, CallControlCancel); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendCancel",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Warn("Failed to send cancel, removing session anyway")
	}
}

func (m *Manager) appendSessionEvent(events []Event, t EventType, peerID uint32) []Event {
	info, exists := m.registry.Get(peerID)
	if !exists {
		return events
	}
	return append(events, sessionEvent(t, info, m.timeProvider.Now()))
}

func (m *Manager) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	m.callbackMu.RLock()
	fn := m.eventCallback
	m.callbackMu.RUnlock()
	if fn == nil {
		return
	}
	for _, e := range events {
		fn(e)
	}
}

func (m *Manager) startSpan(name string, peerID uint32) (context.Context, trace.Span) {
	return m.tracer.Start(context.Background(), name,
		trace.WithAttributes(attribute.Int64("peer_id", int64(peerID))))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
