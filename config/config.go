// Package config loads toxcall settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/av/device"
	"github.com/opd-ai/toxcall/transport"
)

// Environment keys.
const (
	EnvListenAddr        = "TOXCALL_LISTEN_ADDR"
	EnvHTTPAddr          = "TOXCALL_HTTP_ADDR"
	EnvSecretKey         = "TOXCALL_SECRET_KEY"
	EnvPeers             = "TOXCALL_PEERS"
	EnvInput             = "TOXCALL_INPUT"
	EnvOutput            = "TOXCALL_OUTPUT"
	EnvSampleRate        = "TOXCALL_SAMPLE_RATE"
	EnvChannels          = "TOXCALL_CHANNELS"
	EnvFrameMS           = "TOXCALL_FRAME_MS"
	EnvBufferFrames      = "TOXCALL_BUFFER_FRAMES"
	EnvPaceMS            = "TOXCALL_PACE_MS"
	EnvAudioBitRate      = "TOXCALL_AUDIO_BITRATE"
	EnvVideoBitRate      = "TOXCALL_VIDEO_BITRATE"
	EnvAutoAnswer        = "TOXCALL_AUTO_ANSWER"
	EnvLogLevel          = "TOXCALL_LOG_LEVEL"
	EnvLogFormat         = "TOXCALL_LOG_FORMAT"
	EnvTelemetryEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Defaults for keys that are not set.
const (
	DefaultListenAddr = ":33445"
	DefaultHTTPAddr   = "127.0.0.1:8089"
	DefaultDevice     = "default"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// Config is the full node configuration.
type Config struct {
	ListenAddr string
	// HTTPAddr is the control API address; empty disables it.
	HTTPAddr string
	// SecretKey is the hex Curve25519 private key; empty generates one.
	SecretKey string
	// Peers is the friend list as number=host:port=hexkey entries.
	Peers  string
	Input  string
	Output string

	Audio        av.AudioConfig
	AudioBitRate uint32
	VideoBitRate uint32
	AutoAnswer   bool

	LogLevel          string
	LogFormat         string
	TelemetryEndpoint string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ListenAddr:   DefaultListenAddr,
		HTTPAddr:     DefaultHTTPAddr,
		Input:        DefaultDevice,
		Output:       DefaultDevice,
		Audio:        av.DefaultAudioConfig(),
		AudioBitRate: av.DefaultAudioBitRate,
		VideoBitRate: av.DefaultVideoBitRate,
		AutoAnswer:   true,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
	}
}

// Load reads envFile into the environment, then builds a Config from the
// environment over the defaults. A missing envFile is not an error. An
// empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "config.Load",
			"file":     envFile,
		}).Debug("No env file found, reading from environment variables")
	}

	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	millis := func(key string, dst *time.Duration) {
		var ms int
		if v := os.Getenv(key); v != "" {
			integer(key, &ms)
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
	bitrate := func(key string, dst *uint32) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = uint32(n)
		}
	}

	str(EnvListenAddr, &cfg.ListenAddr)
	str(EnvHTTPAddr, &cfg.HTTPAddr)
	str(EnvSecretKey, &cfg.SecretKey)
	str(EnvPeers, &cfg.Peers)
	str(EnvInput, &cfg.Input)
	str(EnvOutput, &cfg.Output)
	integer(EnvSampleRate, &cfg.Audio.SampleRate)
	integer(EnvChannels, &cfg.Audio.Channels)
	millis(EnvFrameMS, &cfg.Audio.FrameDuration)
	integer(EnvBufferFrames, &cfg.Audio.BufferFrames)
	millis(EnvPaceMS, &cfg.Audio.PaceInterval)
	bitrate(EnvAudioBitRate, &cfg.AudioBitRate)
	bitrate(EnvVideoBitRate, &cfg.VideoBitRate)
	str(EnvLogLevel, &cfg.LogLevel)
	str(EnvLogFormat, &cfg.LogFormat)
	str(EnvTelemetryEndpoint, &cfg.TelemetryEndpoint)

	if v := os.Getenv(EnvAutoAnswer); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvAutoAnswer, err))
		} else {
			cfg.AutoAnswer = b
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks every field that can be checked without side effects.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if err := c.Audio.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if c.SecretKey != "" {
		if _, err := transport.ParseKey(c.SecretKey); err != nil {
			errs = append(errs, fmt.Errorf("secret key: %w", err))
		}
	}
	if _, err := c.PeerList(); err != nil {
		errs = append(errs, err)
	}
	if _, err := device.ParseMicrophone(c.Input); err != nil {
		errs = append(errs, err)
	}
	if _, err := device.ParseSpeaker(c.Output); err != nil {
		errs = append(errs, err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format %q: want text or json", c.LogFormat))
	}

	return errors.Join(errs...)
}

// PeerList parses the configured friends.
func (c *Config) PeerList() ([]transport.Peer, error) {
	return transport.ParsePeers(c.Peers)
}

// KeyPair returns the node identity, generating a fresh one when no secret
// key is configured.
func (c *Config) KeyPair() (*transport.KeyPair, error) {
	if c.SecretKey == "" {
		return transport.GenerateKeyPair()
	}
	secret, err := transport.ParseKey(c.SecretKey)
	if err != nil {
		return nil, err
	}
	return transport.KeyPairFromSecret(secret)
}

// ApplyLogging configures the global logrus logger.
func (c *Config) ApplyLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
