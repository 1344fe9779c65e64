package device

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/av/audio"
)

// RawFileSpeaker appends played audio to a file as interleaved
// little-endian 16-bit PCM.
type RawFileSpeaker struct {
	Path string
}

// NewRawFileSpeaker returns a speaker writing to path.
func NewRawFileSpeaker(path string) *RawFileSpeaker {
	return &RawFileSpeaker{Path: path}
}

// Open opens path for appending, creating it if needed.
func (s *RawFileSpeaker) Open(rate, channels int) (av.PlaybackStream, error) {
	file, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open raw output: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "RawFileSpeaker.Open",
		"path":     s.Path,
		"rate":     rate,
		"channels": channels,
	}).Info("Opened raw PCM output")

	return &rawFileStream{file: file, w: bufio.NewWriter(file)}, nil
}

type rawFileStream struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	buf    []byte
	closed bool
}

func (s *rawFileStream) Write(pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}

	if cap(s.buf) < 2*len(pcm) {
		s.buf = make([]byte, 2*len(pcm))
	}
	s.buf = s.buf[:2*len(pcm)]
	audio.PutS16LE(s.buf, pcm)
	_, err := s.w.Write(s.buf)
	return err
}

func (s *rawFileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.w.Flush()
	if err := s.file.Close(); err != nil {
		return err
	}
	return flushErr
}
