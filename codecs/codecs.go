// Package codecs compresses shipped log files.
package codecs

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Codec is a compression codec applied to files shipped to a write archive.
type Codec string

const (
	None      Codec = "none"
	Gzip      Codec = "gzip"
	Snappy    Codec = "snappy"
	Zstandard Codec = "zstd"
)

// Validate returns an error if the Codec is not known.
func (c Codec) Validate() error {
	switch c {
	case None, Gzip, Snappy, Zstandard:
		return nil
	default:
		return fmt.Errorf("unknown codec %q", string(c))
	}
}

// Extension is the filename suffix of content encoded with the Codec.
func (c Codec) Extension() string {
	switch c {
	case Gzip:
		return ".gz"
	case Snappy:
		return ".sz"
	case Zstandard:
		return ".zst"
	default:
		return ""
	}
}

// FromPath returns the Codec of a shipped file, by its extension.
func FromPath(path string) Codec {
	for _, c := range []Codec{Gzip, Snappy, Zstandard} {
		if strings.HasSuffix(path, c.Extension()) {
			return c
		}
	}
	return None
}

// ContentEncoding is the HTTP Content-Encoding of the Codec, if any.
func (c Codec) ContentEncoding() string {
	if c == Gzip {
		return "gzip"
	}
	return ""
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with Codec.
func NewCodecReader(r io.Reader, codec Codec) (Decompressor, error) {
	switch codec {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case Zstandard:
		return zstdNewReader(r)
	default:
		return nil, fmt.Errorf("unsupported codec %q", string(codec))
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with Codec.
func NewCodecWriter(w io.Writer, codec Codec) (Compressor, error) {
	switch codec {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case Zstandard:
		return zstdNewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported codec %q", string(codec))
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdNewReader = func(io.Reader) (io.ReadCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
	zstdNewWriter = func(io.Writer) (io.WriteCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
)
