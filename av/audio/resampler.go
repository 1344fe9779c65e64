package audio

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Resampler converts a stream of interleaved samples between rates with
// linear interpolation. It is good enough for voice and keeps the last input
// frame so consecutive chunks join without a seam.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	channels   int

	step float64
	// pos is the read position in the current chunk, in frames. A value in
	// [-1, 0) interpolates between the previous chunk's last frame and the
	// first frame of this one.
	pos  float64
	last []int16
}

// NewResampler creates a resampler for one stream.
func NewResampler(inputRate, outputRate uint32, channels int) (*Resampler, error) {
	if inputRate == 0 || outputRate == 0 {
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", inputRate, outputRate)
	}
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d (must be 1 or 2)", channels)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  inputRate,
		"output_rate": outputRate,
		"channels":    channels,
	}).Debug("Created resampler")

	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		step:       float64(inputRate) / float64(outputRate),
		last:       make([]int16, channels),
	}, nil
}

// Resample converts one chunk. The chunk length must be a multiple of the
// channel count.
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	if len(input)%r.channels != 0 {
		return nil, fmt.Errorf("input length %d not aligned to %d channels", len(input), r.channels)
	}
	if r.inputRate == r.outputRate {
		return append([]int16(nil), input...), nil
	}

	frames := len(input) / r.channels
	if frames == 0 {
		return nil, nil
	}

	estimate := int(math.Ceil(float64(frames)/r.step)) + 1
	output := make([]int16, 0, estimate*r.channels)

	limit := float64(frames - 1)
	for ; r.pos < limit; r.pos += r.step {
		i := int(math.Floor(r.pos))
		frac := r.pos - float64(i)
		for ch := 0; ch < r.channels; ch++ {
			a := r.sample(input, i, ch)
			b := r.sample(input, i+1, ch)
			output = append(output, int16(math.Round(float64(a)+(float64(b)-float64(a))*frac)))
		}
	}

	r.pos -= float64(frames)
	copy(r.last, input[(frames-1)*r.channels:])
	return output, nil
}

func (r *Resampler) sample(input []int16, frame, ch int) int16 {
	if frame < 0 {
		return r.last[ch]
	}
	return input[frame*r.channels+ch]
}

// Reset clears the carried state.
func (r *Resampler) Reset() {
	r.pos = 0
	for i := range r.last {
		r.last[i] = 0
	}
}

// InputRate returns the source rate.
func (r *Resampler) InputRate() uint32 { return r.inputRate }

// OutputRate returns the target rate.
func (r *Resampler) OutputRate() uint32 { return r.outputRate }

// Channels returns the interleaved channel count.
func (r *Resampler) Channels() int { return r.channels }
