package av

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry is the thread-safe mapping from peer id to session. Every
// operation takes the same lock; readers receive copies so no live entry
// escapes the critical section.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint32]*session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint32]*session),
		now:      time.Now,
	}
}

// InsertOrUpdate creates a pending session for the peer or, when one
// exists, updates its capability flags. It reports whether a session was
// created.
func (r *Registry) InsertOrUpdate(peerID uint32, audio, video bool) bool {
	return r.insertOrUpdate(peerID, DirectionOutgoing, audio, video)
}

func (r *Registry) insertOrUpdate(peerID uint32, direction Direction, audio, video bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists := r.sessions[peerID]; exists {
		s.audioEnabled = audio
		s.videoEnabled = video
		logrus.WithFields(logrus.Fields{
			"function":      "Registry.InsertOrUpdate",
			"peer_id":       peerID,
			"session_id":    s.sessionID,
			"audio_enabled": audio,
			"video_enabled": video,
		}).Debug("Updated session capabilities")
		return false
	}

	s := newSession(peerID, direction, audio, video, r.now())
	r.sessions[peerID] = s

	logrus.WithFields(logrus.Fields{
		"function":      "Registry.InsertOrUpdate",
		"peer_id":       peerID,
		"session_id":    s.sessionID,
		"direction":     direction.String(),
		"audio_enabled": audio,
		"video_enabled": video,
		"session_count": len(r.sessions),
	}).Debug("Created session")
	return true
}

// MarkReadyForAudio moves an existing session to the active phase. A peer
// without a session is ignored: the ready event may have raced a hang up.
func (r *Registry) MarkReadyForAudio(peerID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[peerID]
	if !exists {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.MarkReadyForAudio",
			"peer_id":  peerID,
		}).Debug("Ready event for peer without session ignored")
		return false
	}
	s.phase = PhaseActive
	return true
}

// Remove deletes the peer's session and reports whether one existed.
func (r *Registry) Remove(peerID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[peerID]; !exists {
		return false
	}
	delete(r.sessions, peerID)
	return true
}

// Clear removes every session and returns the removed peer ids in order.
func (r *Registry) Clear() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]uint32, 0, len(r.sessions))
	for peerID := range r.sessions {
		peers = append(peers, peerID)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	r.sessions = make(map[uint32]*session)
	return peers
}

// IsEmpty reports whether no call is in progress.
func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) == 0
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Contains reports whether the peer has a session.
func (r *Registry) Contains(peerID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sessions[peerID]
	return exists
}

// Get returns a copy of the peer's session.
func (r *Registry) Get(peerID uint32) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.sessions[peerID]
	if !exists {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Snapshot copies every session, ordered by peer id. The capture loop
// takes one snapshot per frame and releases the lock before sending.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}
