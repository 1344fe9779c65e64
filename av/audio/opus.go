package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// ErrEmptyPacket indicates an Opus packet with no TOC byte.
var ErrEmptyPacket = errors.New("empty opus packet")

// maxPacketDuration is the longest audio an Opus packet may carry.
const maxPacketDuration = 120 * time.Millisecond

// TOC is the decoded table-of-contents byte that starts every Opus packet
// (RFC 6716 section 3.1).
type TOC struct {
	Config        uint8
	Stereo        bool
	FrameDuration time.Duration
	Frames        int
}

// Duration returns the audio carried by the packet.
func (t TOC) Duration() time.Duration {
	return t.FrameDuration * time.Duration(t.Frames)
}

var (
	silkDurations   = [4]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond}
	hybridDurations = [2]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	celtDurations   = [4]time.Duration{2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
)

// ParseTOC decodes the TOC byte and, for code 3 packets, the frame count
// byte that follows it.
func ParseTOC(packet []byte) (TOC, error) {
	if len(packet) == 0 {
		return TOC{}, ErrEmptyPacket
	}
	b := packet[0]
	toc := TOC{
		Config: b >> 3,
		Stereo: b&0x04 != 0,
	}

	switch {
	case toc.Config < 12:
		toc.FrameDuration = silkDurations[toc.Config%4]
	case toc.Config < 16:
		toc.FrameDuration = hybridDurations[toc.Config%2]
	default:
		toc.FrameDuration = celtDurations[toc.Config%4]
	}

	switch b & 0x03 {
	case 0:
		toc.Frames = 1
	case 1, 2:
		toc.Frames = 2
	case 3:
		if len(packet) < 2 {
			return TOC{}, fmt.Errorf("opus code 3 packet missing frame count")
		}
		toc.Frames = int(packet[1] & 0x3F)
		if toc.Frames == 0 {
			return TOC{}, fmt.Errorf("opus code 3 packet with zero frames")
		}
	}

	if toc.Duration() > maxPacketDuration {
		return TOC{}, fmt.Errorf("opus packet duration %v exceeds %v", toc.Duration(), maxPacketDuration)
	}
	return toc, nil
}

// OpusDecoder decodes one peer's Opus stream. Decoder state carries over
// between packets, so each inbound stream needs its own instance.
type OpusDecoder struct {
	mu      sync.Mutex
	decoder *opus.Decoder
	out     []byte
}

// NewOpusDecoder creates a decoder with an output buffer large enough for
// the longest stereo fullband packet.
func NewOpusDecoder() *OpusDecoder {
	decoder := opus.NewDecoder()
	return &OpusDecoder{
		decoder: &decoder,
		out:     make([]byte, 48000*2*2*int(maxPacketDuration/time.Millisecond)/1000),
	}
}

// Decode returns interleaved samples with their channel count and rate.
// The sample count follows the packet's TOC duration at the decoded
// bandwidth's rate.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, int, uint32, error) {
	toc, err := ParseTOC(packet)
	if err != nil {
		return nil, 0, 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bandwidth, isStereo, err := d.decoder.Decode(packet, d.out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "OpusDecoder.Decode",
			"data_size": len(packet),
			"config":    toc.Config,
			"error":     err.Error(),
		}).Debug("Opus decode failed")
		return nil, 0, 0, fmt.Errorf("opus decode failed: %w", err)
	}

	channels := 1
	if isStereo {
		channels = 2
	}
	rate := uint32(bandwidth.SampleRate())
	samples := int(rate) * channels * int(toc.Duration()/time.Microsecond) / 1_000_000
	if limit := len(d.out) / 2; samples > limit {
		samples = limit
	}

	pcm := DecodeS16LE(d.out[:samples*2])

	logrus.WithFields(logrus.Fields{
		"function":    "OpusDecoder.Decode",
		"input_size":  len(packet),
		"pcm_samples": len(pcm),
		"sample_rate": rate,
		"bandwidth":   bandwidth.String(),
		"is_stereo":   isStereo,
	}).Trace("Decoded opus packet")

	return pcm, channels, rate, nil
}
