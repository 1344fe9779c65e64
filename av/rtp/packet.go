package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// Dynamic payload types used by toxcall.
const (
	PayloadTypeOpus uint8 = 96
	PayloadTypeL16  uint8 = 97
)

// FormatExtensionID is the one-byte header extension id carrying the frame
// format.
const FormatExtensionID uint8 = 1

const formatExtensionSize = 5

var (
	// ErrUnexpectedSSRC indicates a packet from a source other than the one
	// the depacketizer locked onto.
	ErrUnexpectedSSRC = errors.New("unexpected SSRC")
	// ErrMissingFormat indicates a packet without the format extension.
	ErrMissingFormat = errors.New("missing audio format extension")
)

// AudioFormat describes the PCM layout of a frame.
type AudioFormat struct {
	Channels uint8
	Rate     uint32
}

func (f AudioFormat) marshal() []byte {
	b := make([]byte, formatExtensionSize)
	b[0] = f.Channels
	binary.BigEndian.PutUint32(b[1:], f.Rate)
	return b
}

func parseFormat(b []byte) (AudioFormat, error) {
	if len(b) < formatExtensionSize {
		return AudioFormat{}, fmt.Errorf("format extension of %d bytes: %w", len(b), ErrMissingFormat)
	}
	f := AudioFormat{Channels: b[0], Rate: binary.BigEndian.Uint32(b[1:])}
	if f.Channels == 0 || f.Rate == 0 {
		return AudioFormat{}, fmt.Errorf("invalid audio format %d ch at %d Hz", f.Channels, f.Rate)
	}
	return f, nil
}

// Statistics counts packets through a packetizer or depacketizer.
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
}

// AudioPacketizer turns audio payloads into RTP packets for one outgoing
// stream.
type AudioPacketizer struct {
	mu             sync.Mutex
	payloadType    uint8
	ssrc           uint32
	sequenceNumber uint16
	timestamp      uint32
	stats          Statistics
}

// NewAudioPacketizer creates a packetizer with a random SSRC.
func NewAudioPacketizer(payloadType uint8) (*AudioPacketizer, error) {
	if payloadType > 127 {
		return nil, fmt.Errorf("invalid payload type %d", payloadType)
	}

	ssrcBytes := make([]byte, 4)
	if _, err := rand.Read(ssrcBytes); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewAudioPacketizer",
			"error":    err.Error(),
		}).Error("Failed to generate SSRC")
		return nil, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	ssrc := binary.BigEndian.Uint32(ssrcBytes)

	logrus.WithFields(logrus.Fields{
		"function":     "NewAudioPacketizer",
		"ssrc":         ssrc,
		"payload_type": payloadType,
	}).Debug("Audio packetizer created")

	return &AudioPacketizer{
		payloadType: payloadType,
		ssrc:        ssrc,
	}, nil
}

// SSRC returns the stream's synchronization source.
func (ap *AudioPacketizer) SSRC() uint32 {
	return ap.ssrc
}

// Packetize wraps one frame's payload. sampleCount is per channel and
// advances the RTP timestamp once the packet is built.
func (ap *AudioPacketizer) Packetize(payload []byte, sampleCount uint32, format AudioFormat) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("audio data cannot be empty")
	}

	ap.mu.Lock()
	defer ap.mu.Unlock()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    ap.payloadType,
			SequenceNumber: ap.sequenceNumber,
			Timestamp:      ap.timestamp,
			SSRC:           ap.ssrc,
		},
		Payload: payload,
	}
	if err := packet.Header.SetExtension(FormatExtensionID, format.marshal()); err != nil {
		return nil, fmt.Errorf("failed to set format extension: %w", err)
	}

	data, err := packet.Marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AudioPacketizer.Packetize",
			"error":    err.Error(),
		}).Error("Failed to marshal RTP packet")
		return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "AudioPacketizer.Packetize",
		"sequence_number": ap.sequenceNumber,
		"timestamp":       ap.timestamp,
		"rtp_size":        len(data),
	}).Trace("Created RTP packet")

	ap.sequenceNumber++
	ap.timestamp += sampleCount
	ap.stats.PacketsSent++
	return data, nil
}

// Statistics returns a copy of the packet counters.
func (ap *AudioPacketizer) Statistics() Statistics {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.stats
}

// Frame is a parsed inbound audio packet.
type Frame struct {
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Format         AudioFormat
	Payload        []byte
}

// AudioDepacketizer parses one inbound stream.
type AudioDepacketizer struct {
	mu           sync.Mutex
	expectedSSRC uint32
	hasSSRC      bool
	lastSeq      uint16
	hasLastSeq   bool
	stats        Statistics
}

// NewAudioDepacketizer creates a depacketizer that accepts the first SSRC
// it sees.
func NewAudioDepacketizer() *AudioDepacketizer {
	return &AudioDepacketizer{}
}

// Depacketize parses a packet and validates its source and format.
func (ad *AudioDepacketizer) Depacketize(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("RTP data cannot be empty")
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		return Frame{}, fmt.Errorf("failed to unmarshal RTP packet: %w", err)
	}

	format, err := parseFormat(packet.GetExtension(FormatExtensionID))
	if err != nil {
		return Frame{}, err
	}

	ad.mu.Lock()
	defer ad.mu.Unlock()

	if !ad.hasSSRC {
		ad.expectedSSRC = packet.SSRC
		ad.hasSSRC = true
		logrus.WithFields(logrus.Fields{
			"function": "AudioDepacketizer.Depacketize",
			"ssrc":     packet.SSRC,
		}).Debug("Accepted new SSRC for stream")
	} else if packet.SSRC != ad.expectedSSRC {
		return Frame{}, fmt.Errorf("%w: expected %d, got %d", ErrUnexpectedSSRC, ad.expectedSSRC, packet.SSRC)
	}

	if ad.hasLastSeq {
		expected := ad.lastSeq + 1
		if gap := packet.SequenceNumber - expected; gap != 0 && gap < 0x8000 {
			ad.stats.PacketsLost += uint64(gap)
			logrus.WithFields(logrus.Fields{
				"function":          "AudioDepacketizer.Depacketize",
				"expected_sequence": expected,
				"received_sequence": packet.SequenceNumber,
			}).Debug("Sequence gap detected in RTP stream")
		}
	}
	ad.lastSeq = packet.SequenceNumber
	ad.hasLastSeq = true
	ad.stats.PacketsReceived++

	return Frame{
		PayloadType:    packet.PayloadType,
		SequenceNumber: packet.SequenceNumber,
		Timestamp:      packet.Timestamp,
		SSRC:           packet.SSRC,
		Format:         format,
		Payload:        packet.Payload,
	}, nil
}

// Statistics returns a copy of the packet counters.
func (ad *AudioDepacketizer) Statistics() Statistics {
	ad.mu.Lock()
	defer ad.mu.Unlock()
	return ad.stats
}
