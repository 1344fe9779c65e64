package av

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle position of a session. A terminated call has no
// session, so there is no terminal phase stored in the registry.
type Phase uint8

const (
	// PhasePending holds the session while signaling completes.
	PhasePending Phase = iota
	// PhaseActive means the peer accepts audio; only active sessions
	// receive captured frames.
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseActive:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*p = PhasePending
	case "active":
		*p = PhaseActive
	default:
		return fmt.Errorf("unknown phase %q", text)
	}
	return nil
}

// Direction records which side initiated the call.
type Direction uint8

const (
	// DirectionOutgoing is a call placed locally.
	DirectionOutgoing Direction = iota
	// DirectionIncoming is a call offered by the peer.
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// MarshalText renders the direction name in JSON payloads.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a direction name.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "outgoing":
		*d = DirectionOutgoing
	case "incoming":
		*d = DirectionIncoming
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// session is the registry-owned record of an in-progress call with one
// peer. It is only touched while the registry lock is held.
type session struct {
	peerID       uint32
	sessionID    string
	direction    Direction
	audioEnabled bool
	videoEnabled bool
	phase        Phase
	startedAt    time.Time
}

func newSession(peerID uint32, direction Direction, audio, video bool, now time.Time) *session {
	return &session{
		peerID:       peerID,
		sessionID:    uuid.NewString(),
		direction:    direction,
		audioEnabled: audio,
		videoEnabled: video,
		phase:        PhasePending,
		startedAt:    now,
	}
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		PeerID:       s.peerID,
		SessionID:    s.sessionID,
		Direction:    s.direction,
		AudioEnabled: s.audioEnabled,
		VideoEnabled: s.videoEnabled,
		Phase:        s.phase,
		StartedAt:    s.startedAt,
	}
}

// SessionInfo is a copy of a session taken under the registry lock.
// Mutating it has no effect on the registry.
type SessionInfo struct {
	PeerID       uint32    `json:"peer_id"`
	SessionID    string    `json:"session_id"`
	Direction    Direction `json:"direction"`
	AudioEnabled bool      `json:"audio_enabled"`
	VideoEnabled bool      `json:"video_enabled"`
	Phase        Phase     `json:"phase"`
	StartedAt    time.Time `json:"started_at"`
}

// AcceptingAudio reports whether outgoing frames may be sent to the peer.
func (s SessionInfo) AcceptingAudio() bool {
	return s.Phase == PhaseActive
}

// Capabilities returns the 2-bit audio/video mask of the session.
func (s SessionInfo) Capabilities() uint8 {
	return CapabilityMask(s.AudioEnabled, s.VideoEnabled)
}
