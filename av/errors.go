package av

import (
	"errors"
	"fmt"
)

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Caller misuse errors. These are returned synchronously and never retried.
var (
	// ErrCallerMisuse is the parent of every error caused by calling the
	// manager in a way the current call state does not allow.
	ErrCallerMisuse = errors.New("caller misuse")

	// ErrCallAlreadyActive indicates a session already exists with this peer.
	ErrCallAlreadyActive = fmt.Errorf("%w: call already active with this peer", ErrCallerMisuse)

	// ErrNoSession indicates no session exists with this peer.
	ErrNoSession = fmt.Errorf("%w: no session with this peer", ErrCallerMisuse)
)

// Media path errors. These are logged by the capture loop and never
// tear down a session on their own.
var (
	// ErrDevice indicates a microphone or speaker failure.
	ErrDevice = errors.New("audio device error")

	// ErrDelivery indicates the transport failed to send a frame to one peer.
	ErrDelivery = errors.New("audio frame delivery failed")

	// ErrPlaybackClosed indicates a frame arrived while no call holds the
	// playback sink open.
	ErrPlaybackClosed = errors.New("playback sink is closed")
)

// Manager state errors.
var (
	// ErrManagerShutdown indicates the manager no longer accepts operations.
	ErrManagerShutdown = errors.New("manager is shut down")
)
