package compress

import (
	"github.com/klauspost/compress/zstd"

	"github.com/tarinet/peerrpc/wire"
)

// Zstd implements Compressor using Zstandard, for payloads where ratio
// matters more than Snappy's speed.
type Zstd struct {
	// Level is the encoder speed/ratio tradeoff; zero defaults to
	// zstd.SpeedDefault.
	Level zstd.EncoderLevel
}

func (z *Zstd) Type() wire.Compression { return wire.CompressionZstd }

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	level := z.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (z *Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
