package av

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAudioConfig(t *testing.T) {
	cfg := DefaultAudioConfig()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 480, cfg.FrameSamples())
	assert.Equal(t, 480, cfg.SamplesPerChannel())
	assert.Equal(t, 4800, cfg.BufferSamples())
	assert.Equal(t, 70*time.Millisecond, cfg.Latency())
}

func TestAudioConfigStereoFrame(t *testing.T) {
	cfg := AudioConfig{
		SampleRate:    48000,
		Channels:      2,
		FrameDuration: 20 * time.Millisecond,
		BufferFrames:  5,
		PaceInterval:  5 * time.Millisecond,
	}

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 1920, cfg.FrameSamples())
	assert.Equal(t, 960, cfg.SamplesPerChannel())
	assert.Equal(t, 9600, cfg.BufferSamples())
}

func TestAudioConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AudioConfig)
	}{
		{"zero rate", func(c *AudioConfig) { c.SampleRate = 0 }},
		{"no channels", func(c *AudioConfig) { c.Channels = 0 }},
		{"too many channels", func(c *AudioConfig) { c.Channels = 3 }},
		{"sub-millisecond frame", func(c *AudioConfig) { c.FrameDuration = 500 * time.Microsecond }},
		{"no buffer", func(c *AudioConfig) { c.BufferFrames = 0 }},
		{"negative pace", func(c *AudioConfig) { c.PaceInterval = -time.Millisecond }},
		{"pace not shorter than frame", func(c *AudioConfig) { c.PaceInterval = c.FrameDuration }},
		{"empty frame", func(c *AudioConfig) { c.SampleRate = 100; c.FrameDuration = time.Millisecond; c.PaceInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAudioConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
