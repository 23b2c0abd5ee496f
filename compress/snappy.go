package compress

import (
	"github.com/golang/snappy"

	"github.com/tarinet/peerrpc/wire"
)

// Snappy implements Compressor using the Snappy algorithm, optimized for
// speed over ratio.
type Snappy struct{}

func (s *Snappy) Type() wire.Compression { return wire.CompressionSnappy }

func (s *Snappy) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (s *Snappy) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}
