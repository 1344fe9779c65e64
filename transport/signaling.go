package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/toxcall/av"
)

// Signaling messages are the opened payloads of call packets. Every message
// starts with the call id chosen by the caller, so stale packets from an
// earlier call with the same peer can be told apart.

// CallRequestPacket represents a call initiation request.
//
// Wire format:
//
//	[CALL_ID(4)][AUDIO_BITRATE(4)][VIDEO_BITRATE(4)][TIMESTAMP(8)]
//
// Total size: 20 bytes
type CallRequestPacket struct {
	CallID       uint32    // Unique call identifier
	AudioBitRate uint32    // Requested audio bit rate (0 = disabled)
	VideoBitRate uint32    // Requested video bit rate (0 = disabled)
	Timestamp    time.Time // Call initiation timestamp
}

// CallResponsePacket represents a call answer.
//
// Wire format:
//
//	[CALL_ID(4)][ACCEPTED(1)][AUDIO_BITRATE(4)][VIDEO_BITRATE(4)][TIMESTAMP(8)]
//
// Total size: 21 bytes
type CallResponsePacket struct {
	CallID       uint32    // Call identifier from request
	Accepted     bool      // Whether call was accepted
	AudioBitRate uint32    // Accepted audio bit rate (0 = disabled)
	VideoBitRate uint32    // Accepted video bit rate (0 = disabled)
	Timestamp    time.Time // Response timestamp
}

// CallControlPacket represents call control messages.
//
// Wire format:
//
//	[CALL_ID(4)][CONTROL_TYPE(1)][TIMESTAMP(8)]
//
// Total size: 13 bytes
type CallControlPacket struct {
	CallID      uint32         // Call identifier
	ControlType av.CallControl // Control action to perform
	Timestamp   time.Time      // Control message timestamp
}

// CallStatePacket reports the sender's ToxAV state bits.
//
// Wire format:
//
//	[CALL_ID(4)][FLAGS(4)][TIMESTAMP(8)]
//
// Total size: 16 bytes
type CallStatePacket struct {
	CallID    uint32
	Flags     av.StateFlags
	Timestamp time.Time
}

// AudioFramePacket carries one RTP audio packet.
//
// Wire format:
//
//	[CALL_ID(4)][RTP(...)]
type AudioFramePacket struct {
	CallID uint32
	RTP    []byte
}

const (
	callRequestSize  = 20
	callResponseSize = 21
	callControlSize  = 13
	callStateSize    = 16
	audioFrameHeader = 4
)

func putTimestamp(b []byte, t time.Time) {
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
}

func getTimestamp(b []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(b)))
}

func tooShort(what string, got, want int) error {
	return fmt.Errorf("%w: %s of %d bytes, want %d", ErrPacketTooShort, what, got, want)
}

// SerializeCallRequest converts a CallRequestPacket to bytes for transmission.
func SerializeCallRequest(req *CallRequestPacket) ([]byte, error) {
	if req == nil {
		return nil, errors.New("call request packet is nil")
	}

	data := make([]byte, callRequestSize)
	binary.BigEndian.PutUint32(data[0:4], req.CallID)
	binary.BigEndian.PutUint32(data[4:8], req.AudioBitRate)
	binary.BigEndian.PutUint32(data[8:12], req.VideoBitRate)
	putTimestamp(data[12:20], req.Timestamp)

	return data, nil
}

// DeserializeCallRequest converts bytes to a CallRequestPacket.
func DeserializeCallRequest(data []byte) (*CallRequestPacket, error) {
	if len(data) < callRequestSize {
		return nil, tooShort("call request", len(data), callRequestSize)
	}

	return &CallRequestPacket{
		CallID:       binary.BigEndian.Uint32(data[0:4]),
		AudioBitRate: binary.BigEndian.Uint32(data[4:8]),
		VideoBitRate: binary.BigEndian.Uint32(data[8:12]),
		Timestamp:    getTimestamp(data[12:20]),
	}, nil
}

// SerializeCallResponse converts a CallResponsePacket to bytes for transmission.
func SerializeCallResponse(resp *CallResponsePacket) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("call response packet is nil")
	}

	data := make([]byte, callResponseSize)
	binary.BigEndian.PutUint32(data[0:4], resp.CallID)
	if resp.Accepted {
		data[4] = 1
	}
	binary.BigEndian.PutUint32(data[5:9], resp.AudioBitRate)
	binary.BigEndian.PutUint32(data[9:13], resp.VideoBitRate)
	putTimestamp(data[13:21], resp.Timestamp)

	return data, nil
}

// DeserializeCallResponse converts bytes to a CallResponsePacket.
func DeserializeCallResponse(data []byte) (*CallResponsePacket, error) {
	if len(data) < callResponseSize {
		return nil, tooShort("call response", len(data), callResponseSize)
	}

	return &CallResponsePacket{
		CallID:       binary.BigEndian.Uint32(data[0:4]),
		Accepted:     data[4] != 0,
		AudioBitRate: binary.BigEndian.Uint32(data[5:9]),
		VideoBitRate: binary.BigEndian.Uint32(data[9:13]),
		Timestamp:    getTimestamp(data[13:21]),
	}, nil
}

// SerializeCallControl converts a CallControlPacket to bytes for transmission.
func SerializeCallControl(ctrl *CallControlPacket) ([]byte, error) {
	if ctrl == nil {
		return nil, errors.New("call control packet is nil")
	}

	data := make([]byte, callControlSize)
	binary.BigEndian.PutUint32(data[0:4], ctrl.CallID)
	data[4] = byte(ctrl.ControlType)
	putTimestamp(data[5:13], ctrl.Timestamp)

	return data, nil
}

// DeserializeCallControl converts bytes to a CallControlPacket.
func DeserializeCallControl(data []byte) (*CallControlPacket, error) {
	if len(data) < callControlSize {
		return nil, tooShort("call control", len(data), callControlSize)
	}

	return &CallControlPacket{
		CallID:      binary.BigEndian.Uint32(data[0:4]),
		ControlType: av.CallControl(data[4]),
		Timestamp:   getTimestamp(data[5:13]),
	}, nil
}

// SerializeCallState converts a CallStatePacket to bytes for transmission.
func SerializeCallState(st *CallStatePacket) ([]byte, error) {
	if st == nil {
		return nil, errors.New("call state packet is nil")
	}

	data := make([]byte, callStateSize)
	binary.BigEndian.PutUint32(data[0:4], st.CallID)
	binary.BigEndian.PutUint32(data[4:8], uint32(st.Flags))
	putTimestamp(data[8:16], st.Timestamp)

	return data, nil
}

// DeserializeCallState converts bytes to a CallStatePacket.
func DeserializeCallState(data []byte) (*CallStatePacket, error) {
	if len(data) < callStateSize {
		return nil, tooShort("call state", len(data), callStateSize)
	}

	return &CallStatePacket{
		CallID:    binary.BigEndian.Uint32(data[0:4]),
		Flags:     av.StateFlags(binary.BigEndian.Uint32(data[4:8])),
		Timestamp: getTimestamp(data[8:16]),
	}, nil
}

// SerializeAudioFrame prefixes an RTP packet with its call id.
func SerializeAudioFrame(frame *AudioFramePacket) ([]byte, error) {
	if frame == nil || len(frame.RTP) == 0 {
		return nil, errors.New("audio frame packet is empty")
	}

	data := make([]byte, audioFrameHeader+len(frame.RTP))
	binary.BigEndian.PutUint32(data[0:4], frame.CallID)
	copy(data[audioFrameHeader:], frame.RTP)

	return data, nil
}

// DeserializeAudioFrame splits the call id from the RTP packet. The RTP
// slice aliases data.
func DeserializeAudioFrame(data []byte) (*AudioFramePacket, error) {
	if len(data) <= audioFrameHeader {
		return nil, tooShort("audio frame", len(data), audioFrameHeader+1)
	}

	return &AudioFramePacket{
		CallID: binary.BigEndian.Uint32(data[0:4]),
		RTP:    data[audioFrameHeader:],
	}, nil
}
