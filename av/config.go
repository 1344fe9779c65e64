package av

import (
	"fmt"
	"time"
)

// Default audio parameters: narrowband 8 kHz mono in 60 ms frames.
const (
	DefaultSampleRate    = 8000
	DefaultChannels      = 1
	DefaultFrameDuration = 60 * time.Millisecond
	DefaultBufferFrames  = 10
	DefaultPaceInterval  = 10 * time.Millisecond

	// DefaultAudioBitRate and DefaultVideoBitRate are the values passed to
	// the transport when placing or answering a call, in kbit/s.
	DefaultAudioBitRate = 32
	DefaultVideoBitRate = 0
)

// AudioConfig holds the capture parameters fixed for the lifetime of one
// capture loop.
//
// One Read returns exactly one frame. BufferFrames only sizes the device
// buffer, giving headroom against scheduling jitter; PaceInterval must stay
// below FrameDuration so the loop drains frames as fast as the device
// produces them. Steady-state capture latency is at most one frame plus one
// pace interval.
type AudioConfig struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
	BufferFrames  int
	PaceInterval  time.Duration
}

// DefaultAudioConfig returns the narrowband voice configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		FrameDuration: DefaultFrameDuration,
		BufferFrames:  DefaultBufferFrames,
		PaceInterval:  DefaultPaceInterval,
	}
}

// FrameSamples returns the interleaved sample count of one frame:
// rate × channels × duration_ms / 1000.
func (c AudioConfig) FrameSamples() int {
	return c.SampleRate * c.Channels * int(c.FrameDuration/time.Millisecond) / 1000
}

// SamplesPerChannel returns the per-channel sample count of one frame.
func (c AudioConfig) SamplesPerChannel() int {
	if c.Channels == 0 {
		return 0
	}
	return c.FrameSamples() / c.Channels
}

// BufferSamples returns the device buffer size in interleaved samples.
func (c AudioConfig) BufferSamples() int {
	return c.FrameSamples() * c.BufferFrames
}

// Latency is the worst-case steady-state capture latency.
func (c AudioConfig) Latency() time.Duration {
	return c.FrameDuration + c.PaceInterval
}

// Validate checks that the configuration describes a usable frame.
func (c AudioConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("invalid channel count %d", c.Channels)
	}
	if c.FrameDuration < time.Millisecond {
		return fmt.Errorf("invalid frame duration %v", c.FrameDuration)
	}
	if c.BufferFrames < 1 {
		return fmt.Errorf("invalid buffer frame count %d", c.BufferFrames)
	}
	if c.PaceInterval < 0 || c.PaceInterval >= c.FrameDuration {
		return fmt.Errorf("pace interval %v must be non-negative and shorter than frame duration %v",
			c.PaceInterval, c.FrameDuration)
	}
	if c.FrameSamples() == 0 {
		return fmt.Errorf("frame of %v at %d Hz holds no samples", c.FrameDuration, c.SampleRate)
	}
	return nil
}
