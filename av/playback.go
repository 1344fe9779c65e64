package av

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// PlaybackSink renders inbound decoded audio on one shared output stream.
//
// The stream is opened on the first write with that frame's format and
// reused for every later write, whatever its format. Concurrent calls are
// not mixed or resampled onto separate streams. The sink serializes Write
// and Close but does no queuing of its own.
type PlaybackSink struct {
	speaker Speaker
	metrics *instruments

	mu       sync.Mutex
	armed    bool
	stream   PlaybackStream
	rate     int
	channels int
	warned   bool
}

// NewPlaybackSink creates a disarmed sink. Frames are dropped until Arm.
func NewPlaybackSink(speaker Speaker) *PlaybackSink {
	return newPlaybackSink(speaker, newInstruments())
}

func newPlaybackSink(speaker Speaker, metrics *instruments) *PlaybackSink {
	return &PlaybackSink{
		speaker: speaker,
		metrics: metrics,
	}
}

// Arm allows the next write to open the output stream. The manager arms
// the sink when the first call starts.
func (p *PlaybackSink) Arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = true
}

// Write renders one frame, opening the stream lazily.
func (p *PlaybackSink) Write(pcm []int16, channels, rate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.armed {
		return ErrPlaybackClosed
	}

	if p.stream == nil {
		stream, err := p.speaker.Open(rate, channels)
		if err != nil {
			p.metrics.deviceFailed("speaker")
			logrus.WithFields(logrus.Fields{
				"function":    "PlaybackSink.Write",
				"sample_rate": rate,
				"channels":    channels,
				"error":       err.Error(),
			}).Warn("Failed to open speaker")
			return fmt.Errorf("%w: open speaker: %w", ErrDevice, err)
		}
		p.stream = stream
		p.rate = rate
		p.channels = channels
		p.warned = false

		logrus.WithFields(logrus.Fields{
			"function":    "PlaybackSink.Write",
			"sample_rate": rate,
			"channels":    channels,
		}).Info("Playback stream opened")
	} else if (rate != p.rate || channels != p.channels) && !p.warned {
		p.warned = true
		logrus.WithFields(logrus.Fields{
			"function":        "PlaybackSink.Write",
			"stream_rate":     p.rate,
			"stream_channels": p.channels,
			"frame_rate":      rate,
			"frame_channels":  channels,
		}).Debug("Frame format differs from open playback stream, writing unchanged")
	}

	if err := p.stream.Write(pcm); err != nil {
		p.metrics.deviceFailed("speaker")
		return fmt.Errorf("%w: write speaker: %w", ErrDevice, err)
	}
	p.metrics.framePlayed()
	return nil
}

// Close releases the stream and disarms the sink. It is safe to call when
// no stream is open.
func (p *PlaybackSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.armed = false
	if p.stream == nil {
		return nil
	}

	err := p.stream.Close()
	p.stream = nil
	p.rate, p.channels = 0, 0

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PlaybackSink.Close",
			"error":    err.Error(),
		}).Warn("Failed to close playback stream")
		return fmt.Errorf("%w: close speaker: %w", ErrDevice, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "PlaybackSink.Close",
	}).Info("Playback stream released")
	return nil
}

// IsOpen reports whether an output stream is currently held.
func (p *PlaybackSink) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Format returns the rate and channel count of the open stream.
func (p *PlaybackSink) Format() (rate, channels int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate, p.channels, p.stream != nil
}
