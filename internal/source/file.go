package source

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrPayloadTooLarge is returned when a payload exceeds the configured size limit
var ErrPayloadTooLarge = errors.New("replay payload too large")

// Compression identifies how a replay file is stored on disk
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// CompressionFor picks the compression from the file extension (.gz or .zst)
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// ReadFile reads a replay payload, decompressing it based on its extension.
// maxBytes limits the decompressed size; zero or less means no limit.
func ReadFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 256*1024)
	switch CompressionFor(path) {
	case CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	return readLimited(r, maxBytes)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read replay: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read replay: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, maxBytes)
	}
	return data, nil
}

// WriteFile writes a payload, compressing it based on the extension of path
func WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	var w io.WriteCloser
	switch CompressionFor(path) {
	case CompressionGzip:
		w = gzip.NewWriter(f)
	case CompressionZstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w = enc
	default:
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("failed to write replay: %w", err)
		}
		return f.Close()
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write replay: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to flush replay: %w", err)
	}
	return f.Close()
}
