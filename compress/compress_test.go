package compress

import (
	"bytes"
	"testing"

	"github.com/tarinet/peerrpc/wire"
)

func TestRoundTrips(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")
	for _, typ := range []wire.Compression{wire.CompressionGzip, wire.CompressionSnappy, wire.CompressionZstd} {
		compressed, err := Compress(typ, data)
		if err != nil {
			t.Fatalf("%v: compress: %v", typ, err)
		}
		got, err := Decompress(typ, compressed)
		if err != nil {
			t.Fatalf("%v: decompress: %v", typ, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("%v: round trip mismatch", typ)
		}
	}
}

func TestCompressionNonePassthrough(t *testing.T) {
	data := []byte("unchanged")
	got, err := Compress(wire.CompressionNone, data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("expected passthrough")
	}
}

func TestUnregisteredCompressor(t *testing.T) {
	if _, err := Compress(wire.Compression(99), []byte("x")); err == nil {
		t.Fatal("expected error for unregistered compressor")
	}
}
