package utils

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressionAlgorithm labels how a stored blob was compressed. The
// label is persisted next to the data, so renaming a value breaks
// decompression of existing records.
type CompressionAlgorithm string

const (
	CompressionNone   CompressionAlgorithm = "none"
	CompressionGzip   CompressionAlgorithm = "gzip"
	CompressionZlib   CompressionAlgorithm = "zlib"
	CompressionBrotli CompressionAlgorithm = "brotli"
)

// codec pairs the writer and reader side of one algorithm.
type codec struct {
	newWriter func(io.Writer) io.WriteCloser
	newReader func(io.Reader) (io.Reader, error)
}

var codecs = map[CompressionAlgorithm]codec{
	CompressionGzip: {
		newWriter: func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		newReader: func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	},
	CompressionZlib: {
		newWriter: func(w io.Writer) io.WriteCloser { return zlib.NewWriter(w) },
		newReader: func(r io.Reader) (io.Reader, error) { return zlib.NewReader(r) },
	},
	CompressionBrotli: {
		newWriter: func(w io.Writer) io.WriteCloser { return brotli.NewWriterLevel(w, brotli.DefaultCompression) },
		newReader: func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
	},
}

// CompressData compresses data with the named algorithm.
func CompressData(data []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(data) == 0 || algorithm == CompressionNone {
		return data, nil
	}

	c, ok := codecs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	var buf bytes.Buffer
	writer := c.newWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("%s compress: %w", algorithm, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", algorithm, err)
	}
	return buf.Bytes(), nil
}

// DecompressData reverses CompressData.
func DecompressData(compressed []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(compressed) == 0 || algorithm == CompressionNone {
		return compressed, nil
	}

	c, ok := codecs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	reader, err := c.newReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", algorithm, err)
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", algorithm, err)
	}
	return data, nil
}

// GetBestCompression chooses the compression method for a payload.
// Small chunks stay uncompressed since header overhead eats the gain.
func GetBestCompression(data []byte) CompressionAlgorithm {
	if len(data) < 500 {
		return CompressionNone
	}
	return CompressionBrotli
}

// CompressText compresses chunk text for storage, returning the bytes
// and the algorithm label to persist alongside them.
func CompressText(text string) ([]byte, CompressionAlgorithm, error) {
	data := []byte(text)
	algorithm := GetBestCompression(data)

	compressed, err := CompressData(data, algorithm)
	if err != nil {
		return nil, CompressionNone, err
	}

	return compressed, algorithm, nil
}

// DecompressText reverses CompressText.
func DecompressText(compressed []byte, algorithm CompressionAlgorithm) (string, error) {
	data, err := DecompressData(compressed, algorithm)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
