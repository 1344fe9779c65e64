// Package rtp provides RTP (Real-time Transport Protocol) framing for
// toxcall audio frames.
//
// It uses the pion/rtp library for standards-compliant packet handling and
// leaves sending to the caller: the packetizer returns bytes that the
// transport seals and writes to the network.
//
// # Payload Formats
//
//   - PayloadTypeL16 (97): uncompressed big-endian 16-bit PCM, the format
//     toxcall sends
//   - PayloadTypeOpus (96): Opus, accepted on receive
//
// Every packet carries a one-byte header extension (RFC 8285) with id
// FormatExtensionID holding [CHANNELS(1)][RATE(4)], so the receiver knows
// the PCM layout without out-of-band negotiation. The RTP timestamp
// advances by the per-channel sample count of each frame.
//
// # Audio Packetization
//
//	packetizer, err := rtp.NewAudioPacketizer(rtp.PayloadTypeL16)
//	if err != nil {
//	    return err
//	}
//	data, err := packetizer.Packetize(payload, sampleCount, rtp.AudioFormat{Channels: 1, Rate: 8000})
//
// The packetizer generates a random SSRC and handles sequence numbering and
// timestamping.
//
// # Audio Depacketization
//
//	depacketizer := rtp.NewAudioDepacketizer()
//	frame, err := depacketizer.Depacketize(data)
//
// The depacketizer locks onto the first SSRC it sees, rejects packets from
// any other source, and counts sequence gaps as lost packets. Packets are
// returned in arrival order; there is no jitter buffer.
package rtp
