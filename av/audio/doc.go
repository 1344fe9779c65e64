// Package audio provides the sample-level helpers behind toxcall's audio
// path.
//
// # Components
//
//   - PCM byte conversion: big-endian L16 for RTP payloads and
//     little-endian S16 for devices and raw files
//   - OpusDecoder: pion/opus decoding of inbound Opus payloads, with frame
//     duration taken from the packet's TOC byte
//   - Resampler: streaming linear interpolation, used to adapt file sources
//     to the capture format
//   - Remix: mono/stereo conversion
//
// Outgoing audio is sent uncompressed as L16. Inbound audio may be L16 or
// Opus; both decode to interleaved int16 samples.
//
//	dec := audio.NewOpusDecoder()
//	pcm, channels, rate, err := dec.Decode(payload)
//
// # Thread Safety
//
// PCM helpers are pure functions. OpusDecoder serializes Decode calls.
// A Resampler keeps per-stream state and must not be shared.
//
// # Dependencies
//
//   - github.com/pion/opus: Pure Go Opus decoder (no CGO)
//   - github.com/sirupsen/logrus: Structured logging
package audio
