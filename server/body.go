package server

import "github.com/tarinet/peerrpc/wire"

// ChunkedResponseIter is the pure transformation from one wire.RpcResponse
// to the ordered sequence of sub-messages it must be split into when its
// payload exceeds chunkSize. All sub-messages share RequestID and Status;
// only the last sub-message of the last body message (i.e. one whose
// Flags already carries FIN) keeps FIN — every earlier sub-message has it
// cleared. It does no I/O and is unit-testable on its own, per the design
// note in SPEC_FULL.md §9.
func ChunkedResponseIter(resp *wire.RpcResponse, chunkSize int) []*wire.RpcResponse {
	if chunkSize <= 0 || len(resp.Payload) <= chunkSize {
		return []*wire.RpcResponse{resp}
	}

	fin := resp.Flags.Has(wire.FlagFIN)
	baseFlags := resp.Flags &^ wire.FlagFIN

	var out []*wire.RpcResponse
	payload := resp.Payload
	for len(payload) > 0 {
		n := chunkSize
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, &wire.RpcResponse{
			RequestID:   resp.RequestID,
			Status:      resp.Status,
			Flags:       baseFlags,
			Payload:     payload[:n],
			Details:     resp.Details,
			Compression: resp.Compression,
		})
		payload = payload[n:]
	}
	// Details only belongs on the terminal sub-message; clear it from
	// every earlier chunk so a partial read never sees stale details.
	for _, m := range out[:len(out)-1] {
		m.Details = nil
	}
	if fin {
		out[len(out)-1].Flags |= wire.FlagFIN
	}
	return out
}
