package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/av/audio"
)

// The speaker ring holds 1/playbackBufferDivisor seconds of audio.
const playbackBufferDivisor = 2

// MalgoMicrophone captures from the system default input through miniaudio.
// Each stream owns its own context and device.
type MalgoMicrophone struct{}

// MalgoSpeaker plays to the system default output through miniaudio.
type MalgoSpeaker struct{}

func initContext(kind string) (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logrus.WithFields(logrus.Fields{
			"function": "malgo",
			"device":   kind,
		}).Debug(message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return ctx, nil
}

// malgoStream tears down a started device and its context.
type malgoStream struct {
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	ring      *sampleRing
	closeOnce sync.Once
}

func (s *malgoStream) close() error {
	var err error
	s.closeOnce.Do(func() {
		s.ring.Close()
		if stopErr := s.device.Stop(); stopErr != nil {
			err = stopErr
		}
		s.device.Uninit()
		if uninitErr := s.ctx.Uninit(); uninitErr != nil && err == nil {
			err = uninitErr
		}
		s.ctx.Free()
	})
	return err
}

func startDevice(ctx *malgo.AllocatedContext, cfg malgo.DeviceConfig, data malgo.DataProc) (*malgo.Device, error) {
	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: data})
	if err != nil {
		return nil, fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start device: %w", err)
	}
	return device, nil
}

// Open starts capture into a ring of bufferSamples samples.
func (MalgoMicrophone) Open(rate, channels, bufferSamples int) (av.CaptureStream, error) {
	ctx, err := initContext("capture")
	if err != nil {
		return nil, err
	}

	stream := &malgoCaptureStream{malgoStream{ctx: ctx, ring: newSampleRing(bufferSamples)}}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(rate)

	device, err := startDevice(ctx, cfg, func(_, input []byte, _ uint32) {
		stream.ring.Write(audio.DecodeS16LE(input))
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	stream.device = device

	logrus.WithFields(logrus.Fields{
		"function":       "MalgoMicrophone.Open",
		"rate":           rate,
		"channels":       channels,
		"buffer_samples": bufferSamples,
	}).Info("Microphone capture started")
	return stream, nil
}

type malgoCaptureStream struct {
	malgoStream
}

// Read blocks until a full frame is buffered or the stream is closed.
func (s *malgoCaptureStream) Read(pcm []int16) (int, error) {
	n, ok := s.ring.ReadFull(pcm)
	if !ok {
		return 0, ErrStreamClosed
	}
	return n, nil
}

func (s *malgoCaptureStream) Close() error {
	dropped := s.ring.Dropped()
	err := s.close()
	logrus.WithFields(logrus.Fields{
		"function":        "MalgoMicrophone.Close",
		"dropped_samples": dropped,
	}).Info("Microphone capture stopped")
	return err
}

// Open starts playback from a ring holding half a second of audio. The
// device plays silence whenever the ring runs dry.
func (MalgoSpeaker) Open(rate, channels int) (av.PlaybackStream, error) {
	ctx, err := initContext("playback")
	if err != nil {
		return nil, err
	}

	stream := &malgoPlaybackStream{malgoStream: malgoStream{
		ctx:  ctx,
		ring: newSampleRing(rate * channels / playbackBufferDivisor),
	}}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(rate)

	device, err := startDevice(ctx, cfg, func(output, _ []byte, _ uint32) {
		stream.fill(output)
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	stream.device = device

	logrus.WithFields(logrus.Fields{
		"function": "MalgoSpeaker.Open",
		"rate":     rate,
		"channels": channels,
	}).Info("Speaker playback started")
	return stream, nil
}

type malgoPlaybackStream struct {
	malgoStream
	scratch []int16
}

// fill runs on the device thread.
func (s *malgoPlaybackStream) fill(output []byte) {
	n := len(output) / 2
	if cap(s.scratch) < n {
		s.scratch = make([]int16, n)
	}
	s.scratch = s.scratch[:n]
	s.ring.Drain(s.scratch)
	audio.PutS16LE(output, s.scratch)
}

func (s *malgoPlaybackStream) Write(pcm []int16) error {
	s.ring.Write(pcm)
	return nil
}

func (s *malgoPlaybackStream) Close() error {
	err := s.close()
	logrus.WithFields(logrus.Fields{
		"function": "MalgoSpeaker.Close",
	}).Info("Speaker playback stopped")
	return err
}
