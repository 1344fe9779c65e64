package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opd-ai/toxcall/av"
)

// Selector kinds accepted by ParseMicrophone and ParseSpeaker.
const (
	KindDefault = "default"
	KindWAV     = "wav"
	KindLoopWAV = "wavloop"
	KindTone    = "tone"
	KindRaw     = "raw"
	KindNull    = "null"
)

func splitSelector(spec string) (kind, arg string) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return KindDefault, ""
	}
	kind, arg, _ = strings.Cut(spec, ":")
	return strings.ToLower(kind), arg
}

// ParseMicrophone builds an input from a selector:
//
//	default           system microphone
//	wav:<path>        WAV file, stops at the end
//	wavloop:<path>    WAV file, repeats
//	tone:<hz>         sine generator
func ParseMicrophone(spec string) (av.Microphone, error) {
	kind, arg := splitSelector(spec)
	switch kind {
	case KindDefault:
		return MalgoMicrophone{}, nil
	case KindWAV, KindLoopWAV:
		if arg == "" {
			return nil, fmt.Errorf("%s input needs a path", kind)
		}
		return NewWAVMicrophone(arg, kind == KindLoopWAV), nil
	case KindTone:
		freq, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("tone frequency %q: %w", arg, err)
		}
		mic, err := NewToneMicrophone(freq)
		if err != nil {
			return nil, err
		}
		return mic, nil
	default:
		return nil, fmt.Errorf("%w: input %q", ErrUnknownDevice, spec)
	}
}

// ParseSpeaker builds an output from a selector:
//
//	default       system speaker
//	raw:<path>    little-endian PCM appended to a file
//	null          discard
func ParseSpeaker(spec string) (av.Speaker, error) {
	kind, arg := splitSelector(spec)
	switch kind {
	case KindDefault:
		return MalgoSpeaker{}, nil
	case KindRaw:
		if arg == "" {
			return nil, fmt.Errorf("raw output needs a path")
		}
		return NewRawFileSpeaker(arg), nil
	case KindNull:
		return &NullSpeaker{}, nil
	default:
		return nil, fmt.Errorf("%w: output %q", ErrUnknownDevice, spec)
	}
}
