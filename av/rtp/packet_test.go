package rtp

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monoNarrowband = AudioFormat{Channels: 1, Rate: 8000}

func TestNewAudioPacketizer(t *testing.T) {
	p, err := NewAudioPacketizer(PayloadTypeL16)
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = NewAudioPacketizer(200)
	assert.Error(t, err)
}

func TestPacketizeHeaderFields(t *testing.T) {
	p, err := NewAudioPacketizer(PayloadTypeL16)
	require.NoError(t, err)

	first, err := p.Packetize([]byte{1, 2, 3, 4}, 480, monoNarrowband)
	require.NoError(t, err)
	second, err := p.Packetize([]byte{5, 6}, 480, monoNarrowband)
	require.NoError(t, err)

	var a, b rtp.Packet
	require.NoError(t, a.Unmarshal(first))
	require.NoError(t, b.Unmarshal(second))

	assert.Equal(t, uint8(2), a.Version)
	assert.Equal(t, PayloadTypeL16, a.PayloadType)
	assert.Equal(t, p.SSRC(), a.SSRC)
	assert.Equal(t, a.SSRC, b.SSRC)
	assert.Equal(t, a.SequenceNumber+1, b.SequenceNumber)
	assert.Equal(t, a.Timestamp+480, b.Timestamp)
	assert.True(t, a.Extension)
	assert.Equal(t, []byte{1, 0, 0, 0x1F, 0x40}, a.GetExtension(FormatExtensionID))
	assert.Equal(t, []byte{1, 2, 3, 4}, a.Payload)

	assert.Equal(t, uint64(2), p.Statistics().PacketsSent)
}

func TestPacketizeRejectsEmptyPayload(t *testing.T) {
	p, err := NewAudioPacketizer(PayloadTypeL16)
	require.NoError(t, err)

	_, err = p.Packetize(nil, 480, monoNarrowband)
	assert.Error(t, err)
	assert.Zero(t, p.Statistics().PacketsSent)
}

func TestDepacketizeRoundTrip(t *testing.T) {
	p, err := NewAudioPacketizer(PayloadTypeOpus)
	require.NoError(t, err)
	d := NewAudioDepacketizer()

	stereo := AudioFormat{Channels: 2, Rate: 48000}
	data, err := p.Packetize([]byte{0xAA, 0xBB}, 960, stereo)
	require.NoError(t, err)

	frame, err := d.Depacketize(data)
	require.NoError(t, err)
	assert.Equal(t, PayloadTypeOpus, frame.PayloadType)
	assert.Equal(t, stereo, frame.Format)
	assert.Equal(t, []byte{0xAA, 0xBB}, frame.Payload)
	assert.Equal(t, p.SSRC(), frame.SSRC)
	assert.Equal(t, uint64(1), d.Statistics().PacketsReceived)
}

func TestDepacketizeErrors(t *testing.T) {
	d := NewAudioDepacketizer()

	_, err := d.Depacketize(nil)
	assert.Error(t, err)

	_, err = d.Depacketize([]byte{0x80, 0x60})
	assert.Error(t, err)

	bare := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: PayloadTypeL16, SSRC: 1},
		Payload: []byte{1, 2},
	}
	data, err := bare.Marshal()
	require.NoError(t, err)
	_, err = d.Depacketize(data)
	assert.ErrorIs(t, err, ErrMissingFormat)
}

func TestDepacketizeSSRCLock(t *testing.T) {
	d := NewAudioDepacketizer()
	first, err := NewAudioPacketizer(PayloadTypeL16)
	require.NoError(t, err)
	other, err := NewAudioPacketizer(PayloadTypeL16)
	require.NoError(t, err)
	if first.SSRC() == other.SSRC() {
		t.Skip("random SSRC collision")
	}

	data, err := first.Packetize([]byte{1, 2}, 1, monoNarrowband)
	require.NoError(t, err)
	_, err = d.Depacketize(data)
	require.NoError(t, err)

	data, err = other.Packetize([]byte{1, 2}, 1, monoNarrowband)
	require.NoError(t, err)
	_, err = d.Depacketize(data)
	assert.ErrorIs(t, err, ErrUnexpectedSSRC)
}

func TestDepacketizeCountsLostPackets(t *testing.T) {
	p, err := NewAudioPacketizer(PayloadTypeL16)
	require.NoError(t, err)
	d := NewAudioDepacketizer()

	var packets [][]byte
	for i := 0; i < 5; i++ {
		data, err := p.Packetize([]byte{byte(i), 0}, 1, monoNarrowband)
		require.NoError(t, err)
		packets = append(packets, data)
	}

	for _, i := range []int{0, 1, 4} {
		_, err := d.Depacketize(packets[i])
		require.NoError(t, err)
	}

	stats := d.Statistics()
	assert.Equal(t, uint64(3), stats.PacketsReceived)
	assert.Equal(t, uint64(2), stats.PacketsLost)
}
