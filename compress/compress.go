// Package compress provides pluggable payload compression for RpcRequest/
// RpcResponse bodies, adapted from the teacher's rpc/compress package:
// same registry-by-wire-enum shape, generalized from msgs.Compression to
// wire.Compression.
package compress

import (
	"fmt"
	"sync"

	"github.com/tarinet/peerrpc/wire"
)

// Compressor implements one payload codec.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() wire.Compression
}

var (
	registry   = map[wire.Compression]Compressor{}
	registryMu sync.RWMutex
)

// Register adds (or overrides) a compressor in the registry.
func Register(c Compressor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Type()] = c
}

// Get returns the compressor for t, or nil if none is registered.
func Get(t wire.Compression) Compressor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[t]
}

// Compress compresses data per t. CompressionNone and empty data are
// passed through unchanged.
func Compress(t wire.Compression, data []byte) ([]byte, error) {
	if t == wire.CompressionNone || len(data) == 0 {
		return data, nil
	}
	c := Get(t)
	if c == nil {
		return nil, fmt.Errorf("compress: no compressor registered for %d", t)
	}
	return c.Compress(data)
}

// Decompress reverses Compress.
func Decompress(t wire.Compression, data []byte) ([]byte, error) {
	if t == wire.CompressionNone || len(data) == 0 {
		return data, nil
	}
	c := Get(t)
	if c == nil {
		return nil, fmt.Errorf("compress: no compressor registered for %d", t)
	}
	return c.Decompress(data)
}

func init() {
	Register(&Gzip{})
	Register(&Snappy{})
	Register(&Zstd{})
}
