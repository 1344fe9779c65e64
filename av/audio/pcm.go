package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOddLength indicates a byte buffer that does not hold whole samples.
var ErrOddLength = errors.New("pcm buffer length is not a multiple of two")

// EncodeL16 converts samples to big-endian 16-bit PCM (RFC 3551 L16).
func EncodeL16(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.BigEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeL16 converts big-endian 16-bit PCM to samples.
func DecodeL16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("decode L16 of %d bytes: %w", len(data), ErrOddLength)
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// EncodeS16LE converts samples to little-endian bytes, the layout used by
// audio devices and raw PCM files.
func EncodeS16LE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	PutS16LE(out, pcm)
	return out
}

// PutS16LE writes samples into dst as little-endian bytes. dst must hold at
// least 2*len(pcm) bytes.
func PutS16LE(dst []byte, pcm []int16) {
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}

// DecodeS16LE converts little-endian bytes to samples. A trailing odd byte
// is ignored.
func DecodeS16LE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Remix converts interleaved samples between mono and stereo. Downmixing
// averages the two channels; upmixing duplicates the mono sample.
func Remix(pcm []int16, from, to int) ([]int16, error) {
	if from == to {
		return pcm, nil
	}
	switch {
	case from == 2 && to == 1:
		if len(pcm)%2 != 0 {
			return nil, fmt.Errorf("stereo buffer of %d samples is not frame aligned", len(pcm))
		}
		out := make([]int16, len(pcm)/2)
		for i := range out {
			out[i] = int16((int32(pcm[2*i]) + int32(pcm[2*i+1])) / 2)
		}
		return out, nil
	case from == 1 && to == 2:
		out := make([]int16, len(pcm)*2)
		for i, s := range pcm {
			out[2*i] = s
			out[2*i+1] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported channel conversion %d -> %d", from, to)
	}
}
