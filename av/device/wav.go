package device

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/youpy/go-wav"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/av/audio"
)

// WAVMicrophone plays a 16-bit PCM WAV file as if it were captured live.
// The file is converted to the requested channel count and rate when
// opened.
type WAVMicrophone struct {
	Path string
	Loop bool
}

// NewWAVMicrophone returns a WAV source for path.
func NewWAVMicrophone(path string, loop bool) *WAVMicrophone {
	return &WAVMicrophone{Path: path, Loop: loop}
}

// Open loads and converts the file, then returns a paced stream over it.
func (m *WAVMicrophone) Open(rate, channels, bufferSamples int) (av.CaptureStream, error) {
	pcm, err := loadWAV(m.Path, rate, channels)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%s: no audio data", m.Path)
	}

	logrus.WithFields(logrus.Fields{
		"function": "WAVMicrophone.Open",
		"path":     m.Path,
		"samples":  len(pcm),
		"rate":     rate,
		"channels": channels,
		"loop":     m.Loop,
	}).Info("Opened WAV input")

	return &wavStream{
		pcm:      pcm,
		loop:     m.Loop,
		rate:     rate,
		channels: channels,
		closed:   make(chan struct{}),
	}, nil
}

// loadWAV reads the whole file and converts it to the target format.
func loadWAV(path string, rate, channels int) ([]int16, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("%s: read WAV format: %w", path, err)
	}
	if format.AudioFormat != wav.AudioFormatPCM || format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: %s is format %d with %d bits per sample", ErrUnsupportedFormat, path, format.AudioFormat, format.BitsPerSample)
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%s: read WAV data: %w", path, err)
	}
	pcm := audio.DecodeS16LE(raw)

	pcm, err = audio.Remix(pcm, int(format.NumChannels), channels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if int(format.SampleRate) != rate {
		resampler, err := audio.NewResampler(format.SampleRate, uint32(rate), channels)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if pcm, err = resampler.Resample(pcm); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return pcm, nil
}

type wavStream struct {
	pcm      []int16
	pos      int
	loop     bool
	rate     int
	channels int

	pacer     pacer
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *wavStream) Read(pcm []int16) (int, error) {
	if s.pos >= len(s.pcm) && !s.loop {
		return 0, io.EOF
	}

	want := len(pcm) - len(pcm)%s.channels
	if !s.pacer.wait(frameDuration(want, s.rate, s.channels), s.closed) {
		return 0, ErrStreamClosed
	}

	n := 0
	for n < want {
		if s.pos >= len(s.pcm) {
			if !s.loop {
				break
			}
			s.pos = 0
		}
		copied := copy(pcm[n:want], s.pcm[s.pos:])
		s.pos += copied
		n += copied
	}
	return n, nil
}

func (s *wavStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
