package wire

import (
	"bytes"
	"testing"
)

func TestRpcRequestRoundTrip(t *testing.T) {
	in := &RpcRequest{
		RequestID:    7,
		Method:       1,
		DeadlineSecs: 5,
		Flags:        FlagFIN,
		Payload:      []byte{0xAA, 0xBB, 0xCC},
	}
	out, err := UnmarshalRpcRequest(in.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.RequestID != in.RequestID || out.Method != in.Method ||
		out.DeadlineSecs != in.DeadlineSecs || out.Flags != in.Flags ||
		!bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestRpcResponseRoundTrip(t *testing.T) {
	in := &RpcResponse{
		RequestID: 9,
		Status:    0,
		Flags:     FlagACK,
		Payload:   []byte("hello"),
		Details:   []byte("details"),
	}
	out, err := UnmarshalRpcResponse(in.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.RequestID != in.RequestID || out.Status != in.Status ||
		out.Flags != in.Flags || !bytes.Equal(out.Payload, in.Payload) ||
		!bytes.Equal(out.Details, in.Details) {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestRpcResponseEmptyPayloadRoundTrip(t *testing.T) {
	in := &RpcResponse{RequestID: 9, Status: 0, Flags: FlagACK}
	out, err := UnmarshalRpcResponse(in.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Payload) != 0 {
		t.Fatalf("expected empty payload, got %v", out.Payload)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	in := &Hello{SupportedVersions: []uint32{1, 2, 3}}
	out, err := UnmarshalHello(in.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.SupportedVersions) != 3 {
		t.Fatalf("got %v", out.SupportedVersions)
	}
	for i, v := range in.SupportedVersions {
		if out.SupportedVersions[i] != v {
			t.Fatalf("version %d mismatch: got %d want %d", i, out.SupportedVersions[i], v)
		}
	}
}

func TestHelloReplyAcceptRoundTrip(t *testing.T) {
	in := &HelloReply{AcceptedVersion: 3, Ok: true}
	out, err := UnmarshalHelloReply(in.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Ok || out.AcceptedVersion != 3 {
		t.Fatalf("got %+v", out)
	}
}

func TestHelloReplyRejectRoundTrip(t *testing.T) {
	in := &HelloReply{RejectReason: 2, Ok: false}
	out, err := UnmarshalHelloReply(in.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Ok || out.RejectReason != 2 {
		t.Fatalf("got %+v", out)
	}
}

func TestFlagsHasUndefinedBits(t *testing.T) {
	if (FlagFIN | FlagACK).HasUndefinedBits() {
		t.Fatal("FIN|ACK should be fully defined")
	}
	if !Flags(0x04).HasUndefinedBits() {
		t.Fatal("0x04 is not a defined bit")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a framed payload")
	if err := WriteFrame(&buf, payload, RPC_MAX_FRAME_SIZE); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf, RPC_MAX_FRAME_SIZE)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 100), 50); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	putUint[uint32](lenBuf, 1000)
	buf.Write(lenBuf)
	buf.Write(make([]byte, 1000))
	if _, err := ReadFrame(&buf, 10); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
