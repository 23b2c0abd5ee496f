package server

import "net"

// RequestContext is the RequestContext of spec.md §4.4: request_id,
// peer, and a comms_provider handle a service can use to reach back
// into the transport layer (here, just the peer address; richer
// comms-provider behaviour is transport-specific and out of scope).
type RequestContext struct {
	RequestID uint32
	Peer      net.Addr
	Protocol  string
}
