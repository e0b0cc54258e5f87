package ape

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/llehouerou/go-ape/internal/format"
)

// Open parses the container header of rs and creates a Decompressor for
// the whole stream. rs is borrowed and must stay open while the
// Decompressor is used.
func Open(rs io.ReadSeeker) (*Decompressor, error) {
	return OpenWithConfig(rs, DefaultConfig())
}

// OpenWithConfig is like Open with a decoding range.
func OpenWithConfig(rs io.ReadSeeker, cfg Config) (*Decompressor, error) {
	if rs == nil {
		return nil, fmt.Errorf("%w: nil source", ErrBadParameter)
	}
	desc, err := ParseHeader(rs)
	if err != nil {
		return nil, err
	}
	return NewDecompressorWithConfig(rs, desc, cfg)
}

// ParseHeader reads the container header of rs and returns the stream
// descriptor.
func ParseHeader(rs io.ReadSeeker) (*StreamDescriptor, error) {
	h, err := format.Parse(rs)
	switch {
	case err == nil:
	case errors.Is(err, format.ErrBadMagic),
		errors.Is(err, format.ErrTruncated),
		errors.Is(err, format.ErrInvalidHeader):
		return nil, fmt.Errorf("%w: %w", ErrInvalidStream, err)
	default:
		return nil, fmt.Errorf("%w: reading header: %w", ErrIO, err)
	}
	return descriptorFromHeader(h), nil
}

// OpenFile opens the named file and creates a Decompressor for the whole
// stream. The file is closed by Close.
func OpenFile(name string) (*Decompressor, error) {
	return OpenFileWithConfig(name, DefaultConfig())
}

// OpenFileWithConfig is like OpenFile with a decoding range.
func OpenFileWithConfig(name string, cfg Config) (*Decompressor, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	d, err := OpenWithConfig(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	d.closer = f
	return d, nil
}
