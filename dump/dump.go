// Package dump writes the raw bytes received on a connection to a file,
// optionally compressed. Dumps are a diagnostic aid: failing to write one
// never affects the session it observes.
package dump

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how dump files are compressed.
type Compression uint8

const (
	// CompressionNone writes plain files.
	CompressionNone Compression = iota
	// CompressionZstd writes zstd streams.
	CompressionZstd
	// CompressionLZ4 writes LZ4 frame streams.
	CompressionLZ4
)

// String returns the name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// Ext returns the file name suffix for the compression.
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("dump: unknown compression %q", name)
	}
}

// FileName returns the dump file name for a connection opened at t.
func FileName(t time.Time, connID string, c Compression) string {
	return t.UTC().Format("20060102T150405.000Z") + "-" + sanitize(connID) + ".astm" + c.Ext()
}

// Open creates a dump file for the connection in dir. Closing the returned
// writer flushes the compressor and closes the file.
func Open(dir, connID string, c Compression) (io.WriteCloser, error) {
	if c > CompressionLZ4 {
		return nil, fmt.Errorf("dump: unsupported compression %s", c)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("dump: create directory: %w", err)
	}

	path := filepath.Join(dir, FileName(time.Now(), connID, c))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("dump: create file: %w", err)
	}

	switch c {
	case CompressionZstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("dump: zstd writer: %w", err)
		}

		return &compressedFile{w: enc, f: f}, nil

	case CompressionLZ4:
		return &compressedFile{w: lz4.NewWriter(f), f: f}, nil

	default:
		return f, nil
	}
}

// OpenReader opens a dump file for reading. The compression is taken from
// the file name suffix.
func OpenReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dump: open: %w", err)
	}

	switch filepath.Ext(path) {
	case CompressionZstd.Ext():
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("dump: zstd reader: %w", err)
		}

		return &decompressedFile{r: dec, f: f, release: dec.Close}, nil

	case CompressionLZ4.Ext():
		return &decompressedFile{r: lz4.NewReader(f), f: f}, nil

	default:
		return f, nil
	}
}

type flushCloser interface {
	io.Writer
	Close() error
}

type compressedFile struct {
	w flushCloser
	f *os.File
}

func (c *compressedFile) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *compressedFile) Close() error {
	werr := c.w.Close()
	ferr := c.f.Close()

	if werr != nil {
		return fmt.Errorf("dump: flush: %w", werr)
	}
	if ferr != nil {
		return fmt.Errorf("dump: close: %w", ferr)
	}

	return nil
}

type decompressedFile struct {
	r       io.Reader
	f       *os.File
	release func()
}

func (d *decompressedFile) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

func (d *decompressedFile) Close() error {
	if d.release != nil {
		d.release()
	}

	return d.f.Close()
}

func sanitize(s string) string {
	if s == "" {
		return "conn"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
