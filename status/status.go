// Package status defines the RpcStatus codes carried on RpcResponse.Status
// and the HandshakeRejectReason enumeration carried on HelloReply.
package status

// Code is an RpcStatus code. Zero is always OK.
type Code uint32

const (
	OK Code = iota
	BadRequest
	NotFound
	UnsupportedMethod
	Timeout
	Malformed
	Unauthorized
	Internal
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case UnsupportedMethod:
		return "unsupported_method"
	case Timeout:
		return "timeout"
	case Malformed:
		return "malformed"
	case Unauthorized:
		return "unauthorized"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Status pairs a Code with human-readable details, the shape a service
// error is expected to produce (or be converted into by the session
// worker when a plain error is returned).
type Status struct {
	Code    Code
	Details string
}

func (s *Status) Error() string {
	if s.Details == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Details
}

// New builds a Status error.
func New(code Code, details string) *Status {
	return &Status{Code: code, Details: details}
}

// FromError converts a plain error into a Status, defaulting to Internal
// unless err already is (or wraps) a *Status.
func FromError(err error) *Status {
	if err == nil {
		return nil
	}
	var s *Status
	if as, ok := err.(*Status); ok {
		return as
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		if inner := u.Unwrap(); inner != nil {
			if found := FromError(inner); found != nil {
				return found
			}
		}
	}
	_ = s
	return &Status{Code: Internal, Details: err.Error()}
}

// RejectReason is the closed enumeration of handshake rejection causes.
type RejectReason uint32

const (
	RejectUnknown RejectReason = iota
	RejectProtocolNotSupported
	RejectUnsupportedVersion
	RejectNoSessionsAvailable
)

func (r RejectReason) String() string {
	switch r {
	case RejectProtocolNotSupported:
		return "ProtocolNotSupported"
	case RejectUnsupportedVersion:
		return "UnsupportedVersion"
	case RejectNoSessionsAvailable:
		return "NoSessionsAvailable"
	default:
		return "Unknown"
	}
}
