package compress

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/tarinet/peerrpc/wire"
)

// Gzip implements Compressor using the standard library's gzip codec.
type Gzip struct {
	// Level is the compression level; zero defaults to gzip.DefaultCompression.
	Level int
}

func (g *Gzip) Type() wire.Compression { return wire.CompressionGzip }

func (g *Gzip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	level := g.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Gzip) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
