// Package wire implements the on-the-wire message shapes of the RPC core
// and the length-delimited frame codec substreams are read and written
// through. Messages are encoded with the protobuf wire format using
// google.golang.org/protobuf/encoding/protowire directly: the field
// layout below is the "schema" in place of a .proto file.
package wire

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// RPC_MAX_FRAME_SIZE caps a single frame's length, enforced on both read
// and write. An oversize frame is a protocol error.
const RPC_MAX_FRAME_SIZE = 4 << 20 // 4 MiB

// Flags is the RpcMessageFlags bitset. Only FIN and ACK are defined.
// Decoding keeps any other bits as they arrived; the session worker
// rejects a request that sets one (see HasUndefinedBits).
type Flags uint32

const (
	FlagFIN Flags = 0x01
	FlagACK Flags = 0x02

	definedFlags = FlagFIN | FlagACK
)

// Has reports whether bit is set.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// HasUndefinedBits reports whether f sets any bit outside FIN|ACK. The
// session worker rejects such a request as malformed rather than
// truncating it, per the redesigned behaviour in SPEC_FULL.md.
func (f Flags) HasUndefinedBits() bool { return f&^definedFlags != 0 }

// Compression names the payload codec applied to a message's payload
// bytes below the RPC framing layer. This is additive to the wire
// message shapes below (spec.md's literal RpcRequest/RpcResponse field
// lists are unchanged; Compression just says how the payload field's
// bytes were produced).
type Compression uint32

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionSnappy
	CompressionZstd
)

// RpcRequest is the Client -> Server message.
type RpcRequest struct {
	RequestID    uint32
	Method       uint32
	DeadlineSecs uint64
	Flags        Flags
	Payload      []byte
	Compression  Compression
}

// RpcResponse is the Server -> Client message.
type RpcResponse struct {
	RequestID   uint32
	Status      uint32
	Flags       Flags
	Payload     []byte
	Details     []byte
	Compression Compression
}

// Hello is the client's handshake offer.
type Hello struct {
	SupportedVersions []uint32
}

// HelloReply is the server's handshake response. Ok discriminates
// accept (RejectReason ignored) from reject (AcceptedVersion ignored);
// protowire has no native oneof, so this flag stands in for one.
type HelloReply struct {
	AcceptedVersion uint32
	RejectReason    uint32
	Ok              bool
}

const (
	fieldRequestID    = 1
	fieldMethod       = 2
	fieldDeadlineSecs = 3
	fieldFlags        = 4
	fieldPayload      = 5
	fieldCompression  = 6

	fieldRespRequestID   = 1
	fieldRespStatus      = 2
	fieldRespFlags       = 3
	fieldRespPayload     = 4
	fieldRespDetails     = 5
	fieldRespCompression = 6

	fieldHelloVersions = 1

	fieldReplyAccepted = 1
	fieldReplyReject   = 2
	fieldReplyOk       = 3
)

// Marshal encodes r using the field layout documented in SPEC_FULL.md §6.1.
func (r *RpcRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.RequestID))
	b = protowire.AppendTag(b, fieldMethod, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Method))
	b = protowire.AppendTag(b, fieldDeadlineSecs, protowire.VarintType)
	b = protowire.AppendVarint(b, r.DeadlineSecs)
	b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Flags))
	if len(r.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Payload)
	}
	if r.Compression != CompressionNone {
		b = protowire.AppendTag(b, fieldCompression, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Compression))
	}
	return b
}

// UnmarshalRpcRequest decodes b into an RpcRequest. Unknown fields are
// skipped, matching protobuf's forward-compatibility rule.
func UnmarshalRpcRequest(b []byte) (*RpcRequest, error) {
	r := &RpcRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRequestID:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.RequestID = uint32(v)
			b = b[n:]
		case fieldMethod:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.Method = uint32(v)
			b = b[n:]
		case fieldDeadlineSecs:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.DeadlineSecs = v
			b = b[n:]
		case fieldFlags:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.Flags = Flags(uint32(v))
			b = b[n:]
		case fieldPayload:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			r.Payload = v
			b = b[n:]
		case fieldCompression:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.Compression = Compression(uint32(v))
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return r, nil
}

// Marshal encodes r using the field layout documented in SPEC_FULL.md §6.1.
func (r *RpcResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRespRequestID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.RequestID))
	b = protowire.AppendTag(b, fieldRespStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	b = protowire.AppendTag(b, fieldRespFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Flags))
	if len(r.Payload) > 0 {
		b = protowire.AppendTag(b, fieldRespPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Payload)
	}
	if len(r.Details) > 0 {
		b = protowire.AppendTag(b, fieldRespDetails, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Details)
	}
	if r.Compression != CompressionNone {
		b = protowire.AppendTag(b, fieldRespCompression, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Compression))
	}
	return b
}

// UnmarshalRpcResponse decodes b into an RpcResponse.
func UnmarshalRpcResponse(b []byte) (*RpcResponse, error) {
	r := &RpcResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRespRequestID:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.RequestID = uint32(v)
			b = b[n:]
		case fieldRespStatus:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.Status = uint32(v)
			b = b[n:]
		case fieldRespFlags:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.Flags = Flags(uint32(v))
			b = b[n:]
		case fieldRespPayload:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			r.Payload = v
			b = b[n:]
		case fieldRespDetails:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			r.Details = v
			b = b[n:]
		case fieldRespCompression:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.Compression = Compression(uint32(v))
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return r, nil
}

// Marshal encodes the handshake offer as a packed-varint repeated field.
func (h *Hello) Marshal() []byte {
	var b []byte
	if len(h.SupportedVersions) > 0 {
		var packed []byte
		for _, v := range h.SupportedVersions {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = protowire.AppendTag(b, fieldHelloVersions, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

// UnmarshalHello decodes b into a Hello.
func UnmarshalHello(b []byte) (*Hello, error) {
	h := &Hello{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldHelloVersions:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			rest := v
			for len(rest) > 0 {
				ver, vn, err := consumeVarint(rest)
				if err != nil {
					return nil, err
				}
				h.SupportedVersions = append(h.SupportedVersions, uint32(ver))
				rest = rest[vn:]
			}
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return h, nil
}

// Marshal encodes the handshake reply.
func (r *HelloReply) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldReplyAccepted, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.AcceptedVersion))
	b = protowire.AppendTag(b, fieldReplyReject, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.RejectReason))
	b = protowire.AppendTag(b, fieldReplyOk, protowire.VarintType)
	ok := uint64(0)
	if r.Ok {
		ok = 1
	}
	b = protowire.AppendVarint(b, ok)
	return b
}

// UnmarshalHelloReply decodes b into a HelloReply.
func UnmarshalHelloReply(b []byte) (*HelloReply, error) {
	r := &HelloReply{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldReplyAccepted:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.AcceptedVersion = uint32(v)
			b = b[n:]
		case fieldReplyReject:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.RejectReason = uint32(v)
			b = b[n:]
		case fieldReplyOk:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			r.Ok = v != 0
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[n:]
		}
	}
	return r, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: consume varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("wire: consume bytes: %w", protowire.ParseError(n))
	}
	// protowire.ConsumeBytes returns a slice aliasing b; copy it so callers
	// can hold onto it past the next frame read.
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func skipField(b []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("wire: skip field: %w", protowire.ParseError(n))
	}
	return n, nil
}

// ReadFrame reads one length-prefixed frame from r, enforcing maxSize.
// An oversize frame returns ErrFrameTooLarge without consuming the rest
// of the stream (the caller must close the connection).
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	size := getUint[uint32](lenBuf)
	if size > maxSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame to w, enforcing maxSize.
func WriteFrame(w io.Writer, payload []byte, maxSize uint32) error {
	if uint32(len(payload)) > maxSize {
		return ErrFrameTooLarge
	}
	lenBuf := make([]byte, 4)
	putUint[uint32](lenBuf, uint32(len(payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ErrFrameTooLarge is returned by ReadFrame/WriteFrame when a frame
// exceeds the configured maximum size.
var ErrFrameTooLarge = fmt.Errorf("wire: frame exceeds max frame size")
