package device

import "errors"

var (
	// ErrStreamClosed is returned by reads and writes on a closed stream.
	ErrStreamClosed = errors.New("stream closed")
	// ErrUnsupportedFormat indicates an input file that is not 16-bit PCM.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrUnknownDevice indicates a selector that names no device kind.
	ErrUnknownDevice = errors.New("unknown device selector")
)
