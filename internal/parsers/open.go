package parsers

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Source is a named input that can be opened once per run.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileSource opens path through Open.
func FileSource(path string) Source {
	return Source{Name: path, Open: func() (io.ReadCloser, error) { return Open(path) }}
}

// ReaderSource wraps in-memory content, mostly for tests and stdin.
func ReaderSource(name string, content string) Source {
	return Source{Name: name, Open: func() (io.ReadCloser, error) {
		return Decompress(io.NopCloser(strings.NewReader(content)))
	}}
}

// Open opens a detail or summary export. Gzip and zstd content is detected
// by its magic bytes and decompressed transparently, whatever the file is
// called. "-" reads standard input.
func Open(path string) (io.ReadCloser, error) {
	var f io.ReadCloser
	if path == "-" {
		f = io.NopCloser(os.Stdin)
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("parsers: open %s: %w", path, err)
		}
		f = file
	}
	rc, err := Decompress(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parsers: open %s: %w", path, err)
	}
	return rc, nil
}

// Decompress wraps rc in a decoder when its content starts with a gzip or
// zstd frame. Closing the result closes rc.
func Decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	head, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd header: %w", err)
		}
		dec := zr.IOReadCloser()
		return &stackedCloser{Reader: dec, closers: []io.Closer{dec, rc}}, nil
	default:
		return &stackedCloser{Reader: br, closers: []io.Closer{rc}}, nil
	}
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
