package av

import "time"

// EventType names a change in the manager's call state.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionUpdated EventType = "session_updated"
	EventSessionActive  EventType = "session_active"
	EventSessionEnded   EventType = "session_ended"
	EventCaptureStarted EventType = "capture_started"
	EventCaptureStopped EventType = "capture_stopped"
)

// Event describes one state change. Session fields are zero for capture
// events.
type Event struct {
	Type      EventType `json:"type"`
	PeerID    uint32    `json:"peer_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Direction Direction `json:"direction"`
	Audio     bool      `json:"audio"`
	Video     bool      `json:"video"`
	Phase     Phase     `json:"phase"`
	Time      time.Time `json:"time"`
}

func sessionEvent(t EventType, s SessionInfo, now time.Time) Event {
	return Event{
		Type:      t,
		PeerID:    s.PeerID,
		SessionID: s.SessionID,
		Direction: s.Direction,
		Audio:     s.AudioEnabled,
		Video:     s.VideoEnabled,
		Phase:     s.Phase,
		Time:      now,
	}
}

func captureEvent(t EventType, now time.Time) Event {
	return Event{Type: t, Time: now}
}
