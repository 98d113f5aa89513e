// Package archive compresses captured output for the session store.
package archive

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec a blob was stored with
type Compression uint8

// Supported codecs
const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression converts a configuration name into a Compression.
// The empty string selects no compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", name)
	}
}

// Blob is compressed data together with what is needed to restore it
type Blob struct {
	Compression Compression
	Size        int // Uncompressed size
	Data        []byte
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

var errIncompressible = errors.New("data is incompressible")

// Compress packs data with the requested codec. Data the codec cannot
// shrink is stored uncompressed.
func Compress(data []byte, c Compression) (Blob, error) {
	if len(data) == 0 {
		return Blob{Compression: CompressionNone}, nil
	}

	var (
		packed []byte
		err    error
	)
	switch c {
	case CompressionNone:
		return stored(data), nil
	case CompressionLZ4:
		packed, err = compressLZ4(data)
	case CompressionZstd:
		packed, err = compressZstd(data)
	default:
		return Blob{}, fmt.Errorf("compress: unsupported codec %s", c)
	}

	if errors.Is(err, errIncompressible) {
		return stored(data), nil
	}
	if err != nil {
		return Blob{}, fmt.Errorf("compress %s: %w", c, err)
	}
	return Blob{Compression: c, Size: len(data), Data: packed}, nil
}

// Decompress restores the original bytes of a blob
func Decompress(b Blob) ([]byte, error) {
	switch b.Compression {
	case CompressionNone:
		out := make([]byte, len(b.Data))
		copy(out, b.Data)
		return out, nil
	case CompressionLZ4:
		out := make([]byte, b.Size)
		n, err := lz4.UncompressBlock(b.Data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != b.Size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", n, b.Size)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(b.Data, make([]byte, 0, b.Size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != b.Size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(out), b.Size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decompress: unsupported codec %s", b.Compression)
	}
}

func stored(data []byte) Blob {
	out := make([]byte, len(data))
	copy(out, data)
	return Blob{Compression: CompressionNone, Size: len(data), Data: out}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	packed := zstdEncoder.EncodeAll(data, nil)
	if len(packed) >= len(data) {
		return nil, errIncompressible
	}
	return packed, nil
}
