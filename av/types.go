package av

import (
	"fmt"
	"strings"
)

// StateFlags is the bitmask a transport reports in call state events.
// These values match the libtoxcore ToxAV friend call state bits.
type StateFlags uint32

const (
	// FlagError indicates the call ended with an error.
	FlagError StateFlags = 1 << iota
	// FlagFinished indicates the call ended normally.
	FlagFinished
	// FlagSendingAudio indicates the peer is sending audio.
	FlagSendingAudio
	// FlagSendingVideo indicates the peer is sending video.
	FlagSendingVideo
	// FlagAcceptingAudio indicates the peer is ready to receive audio.
	FlagAcceptingAudio
	// FlagAcceptingVideo indicates the peer is ready to receive video.
	FlagAcceptingVideo
)

// StateEvent is the decoded form of StateFlags used inside the manager.
type StateEvent struct {
	Terminal      bool
	ReadyForAudio bool
}

// Decode converts the raw bitmask into the two facts the manager acts on.
// Terminal and ReadyForAudio are independent; an update may carry either,
// both or neither.
func (f StateFlags) Decode() StateEvent {
	return StateEvent{
		Terminal:      f&(FlagError|FlagFinished) != 0,
		ReadyForAudio: f&FlagAcceptingAudio != 0,
	}
}

// String renders the set bits, e.g. "sending_audio|accepting_audio".
func (f StateFlags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		flag StateFlags
		name string
	}{
		{FlagError, "error"},
		{FlagFinished, "finished"},
		{FlagSendingAudio, "sending_audio"},
		{FlagSendingVideo, "sending_video"},
		{FlagAcceptingAudio, "accepting_audio"},
		{FlagAcceptingVideo, "accepting_video"},
	}
	var parts []string
	for _, n := range names {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if rest := f &^ (FlagAcceptingVideo<<1 - 1); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// CallControl represents call control actions.
// These values match the libtoxcore ToxAV API for compatibility.
type CallControl uint32

const (
	// CallControlResume resumes a paused call
	CallControlResume CallControl = iota
	// CallControlPause pauses an active call
	CallControlPause
	// CallControlCancel cancels/ends the call
	CallControlCancel
	// CallControlMuteAudio mutes outgoing audio
	CallControlMuteAudio
	// CallControlUnmuteAudio unmutes outgoing audio
	CallControlUnmuteAudio
	// CallControlHideVideo hides outgoing video
	CallControlHideVideo
	// CallControlShowVideo shows outgoing video
	CallControlShowVideo
)

func (c CallControl) String() string {
	switch c {
	case CallControlResume:
		return "resume"
	case CallControlPause:
		return "pause"
	case CallControlCancel:
		return "cancel"
	case CallControlMuteAudio:
		return "mute_audio"
	case CallControlUnmuteAudio:
		return "unmute_audio"
	case CallControlHideVideo:
		return "hide_video"
	case CallControlShowVideo:
		return "show_video"
	default:
		return fmt.Sprintf("control(%d)", uint32(c))
	}
}

// CapabilityMask packs audio and video into the 2-bit value ToxAV clients
// exchange: bit0 = audio, bit1 = video.
func CapabilityMask(audio, video bool) uint8 {
	var m uint8
	if audio {
		m |= 1
	}
	if video {
		m |= 2
	}
	return m
}

// Transport is the call signaling and media collaborator consumed by the
// manager. Implementations must be safe for concurrent use; SendAudioFrame
// is called from the capture goroutine while the other methods are called
// from whichever goroutine drives call control.
type Transport interface {
	// Call requests an outgoing call to the peer.
	Call(peerID, audioBitRate, videoBitRate uint32) error
	// Answer accepts an incoming call from the peer.
	Answer(peerID, audioBitRate, videoBitRate uint32) error
	// CallControl sends a control action to the peer.
	CallControl(peerID uint32, control CallControl) error
	// SendAudioFrame sends one PCM frame. sampleCount is per channel.
	SendAudioFrame(peerID uint32, pcm []int16, sampleCount int, channels uint8, rate uint32) error
}

// Microphone opens capture streams.
type Microphone interface {
	// Open starts capturing interleaved 16-bit PCM. bufferSamples is the
	// size of the device-side buffer in interleaved samples.
	Open(rate, channels, bufferSamples int) (CaptureStream, error)
}

// CaptureStream is an open microphone.
type CaptureStream interface {
	// Read fills pcm with up to len(pcm) samples and returns the count.
	Read(pcm []int16) (int, error)
	Close() error
}

// Speaker opens playback streams.
type Speaker interface {
	Open(rate, channels int) (PlaybackStream, error)
}

// PlaybackStream is an open output device.
type PlaybackStream interface {
	Write(pcm []int16) error
	Close() error
}

// AnswerPolicy decides whether an incoming call is answered immediately.
// When it returns false the session is held pending until Manager.Answer
// or Manager.HangUp is called.
type AnswerPolicy func(peerID uint32, audio, video bool) bool

// AlwaysAnswer answers every incoming call.
func AlwaysAnswer(uint32, bool, bool) bool { return true }

// NeverAnswer holds every incoming call for an explicit decision.
func NeverAnswer(uint32, bool, bool) bool { return false }
