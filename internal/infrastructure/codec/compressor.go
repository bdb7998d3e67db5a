package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// maxDecodedSize bounds decompression so a bad payload cannot exhaust memory.
const maxDecodedSize = 64 << 20

// Algorithm is the compressor tag stored in the envelope header.
type Algorithm byte

const (
	AlgoNone Algorithm = iota
	AlgoGzip
	AlgoZstd
	AlgoS2
)

func (a Algorithm) String() string {
	switch a {
	case AlgoNone:
		return "none"
	case AlgoGzip:
		return "gzip"
	case AlgoZstd:
		return "zstd"
	case AlgoS2:
		return "s2"
	default:
		return fmt.Sprintf("unknown(%d)", byte(a))
	}
}

// ParseAlgorithm maps a config value to an algorithm. Empty means gzip.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gzip":
		return AlgoGzip, nil
	case "zstd":
		return AlgoZstd, nil
	case "s2":
		return AlgoS2, nil
	case "none", "off":
		return AlgoNone, nil
	}
	return AlgoNone, fmt.Errorf("unknown compression algorithm %q", name)
}

type compressor interface {
	compress(src []byte) ([]byte, error)
	decompress(src []byte) ([]byte, error)
}

func compressorFor(a Algorithm) (compressor, bool) {
	switch a {
	case AlgoGzip:
		return gzipCompressor{}, true
	case AlgoZstd:
		return zstdCompressor{}, true
	case AlgoS2:
		return s2Compressor{}, true
	}
	return nil, false
}

type gzipCompressor struct{}

func (gzipCompressor) compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) decompress(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecodedSize {
		return nil, fmt.Errorf("decoded payload exceeds %d bytes", maxDecodedSize)
	}
	return out, nil
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstd encoders and decoders are expensive to build and safe to share for EncodeAll/DecodeAll.
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

type zstdCompressor struct{}

func (zstdCompressor) compress(src []byte) ([]byte, error) {
	enc, _, err := zstdCodecs()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(src, nil), nil
}

func (zstdCompressor) decompress(src []byte) ([]byte, error) {
	_, dec, err := zstdCodecs()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(src, nil)
}

type s2Compressor struct{}

func (s2Compressor) compress(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (s2Compressor) decompress(src []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if n > maxDecodedSize {
		return nil, fmt.Errorf("decoded payload exceeds %d bytes", maxDecodedSize)
	}
	return s2.Decode(nil, src)
}
