package device

import (
	"fmt"
	"math"
	"sync"

	"github.com/opd-ai/toxcall/av"
)

// DefaultToneAmplitude is a comfortable level below full scale.
const DefaultToneAmplitude = 8000

// ToneMicrophone generates a sine wave in real time.
type ToneMicrophone struct {
	Frequency float64
	Amplitude int16
}

// NewToneMicrophone returns a tone source at the given frequency.
func NewToneMicrophone(frequency float64) (*ToneMicrophone, error) {
	if frequency <= 0 || math.IsNaN(frequency) || math.IsInf(frequency, 0) {
		return nil, fmt.Errorf("invalid tone frequency %v", frequency)
	}
	return &ToneMicrophone{Frequency: frequency, Amplitude: DefaultToneAmplitude}, nil
}

// Open starts a tone stream. bufferSamples is unused.
func (m *ToneMicrophone) Open(rate, channels, bufferSamples int) (av.CaptureStream, error) {
	if rate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid tone format %d Hz, %d channels", rate, channels)
	}
	return &toneStream{
		step:      2 * math.Pi * m.Frequency / float64(rate),
		amplitude: float64(m.Amplitude),
		rate:      rate,
		channels:  channels,
		closed:    make(chan struct{}),
	}, nil
}

type toneStream struct {
	step      float64
	amplitude float64
	rate      int
	channels  int

	phase     float64
	pacer     pacer
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *toneStream) Read(pcm []int16) (int, error) {
	frames := len(pcm) / s.channels
	if !s.pacer.wait(frameDuration(frames*s.channels, s.rate, s.channels), s.closed) {
		return 0, ErrStreamClosed
	}

	for i := 0; i < frames; i++ {
		v := int16(s.amplitude * math.Sin(s.phase))
		for ch := 0; ch < s.channels; ch++ {
			pcm[i*s.channels+ch] = v
		}
		s.phase += s.step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return frames * s.channels, nil
}

func (s *toneStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
