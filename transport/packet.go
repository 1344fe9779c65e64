package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType identifies the type of a call packet.
type PacketType byte

// Call packet types, in the ToxAV packet range.
const (
	PacketCallRequest  PacketType = 0x30
	PacketCallResponse PacketType = 0x31
	PacketCallControl  PacketType = 0x32
	PacketAudioFrame   PacketType = 0x33
	PacketCallState    PacketType = 0x36
)

func (t PacketType) String() string {
	switch t {
	case PacketCallRequest:
		return "call_request"
	case PacketCallResponse:
		return "call_response"
	case PacketCallControl:
		return "call_control"
	case PacketAudioFrame:
		return "audio_frame"
	case PacketCallState:
		return "call_state"
	default:
		return fmt.Sprintf("packet(0x%02x)", byte(t))
	}
}

// packetHeaderSize is the clear-text prefix: type and nonce.
const packetHeaderSize = 1 + 8

// maxPacketSize bounds datagrams read from the network.
const maxPacketSize = 2048

// ErrPacketTooShort indicates a datagram shorter than its fixed layout.
var ErrPacketTooShort = errors.New("packet too short")

// Packet is one datagram on the wire.
//
// Wire format:
//
//	[TYPE(1)][NONCE(8)][SEALED PAYLOAD]
//
// The nonce is the sender's per-peer counter, big endian. Data holds the
// sealed payload, prefixed by the sender's session salt; the type byte is
// authenticated with it.
type Packet struct {
	PacketType PacketType
	Nonce      uint64
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	result := make([]byte, packetHeaderSize+len(p.Data))
	result[0] = byte(p.PacketType)
	binary.BigEndian.PutUint64(result[1:9], p.Nonce)
	copy(result[packetHeaderSize:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet. The data is copied.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < packetHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(data))
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Nonce:      binary.BigEndian.Uint64(data[1:9]),
		Data:       make([]byte, len(data)-packetHeaderSize),
	}
	copy(packet.Data, data[packetHeaderSize:])

	return packet, nil
}
