// Package rpcerr provides the structured error taxonomy used at package
// boundaries in the RPC core. It mirrors the failure kinds of the
// protocol itself (handshake, admission, protocol, policy, service,
// deadline, stream) rather than Go's ad-hoc error values, so callers and
// tests can branch on Category instead of matching strings.
package rpcerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category names one of the failure kinds the RPC core distinguishes.
// Errors built with E carry one; CategoryOf reports CategoryUnknown for
// any other error.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryHandshake covers version mismatch, handshake timeout,
	// oversized handshake frame, decode failure, or explicit reject.
	CategoryHandshake
	// CategoryAdmission covers the bounded executor refusing a new session.
	CategoryAdmission
	// CategoryProtocol covers malformed requests, bad flags, or decode
	// failure mid-session.
	CategoryProtocol
	// CategoryPolicy covers a client deadline below the configured minimum.
	CategoryPolicy
	// CategoryService covers an RpcStatus produced by a user service.
	CategoryService
	// CategoryDeadline covers a service call or body read exceeding the
	// client's deadline.
	CategoryDeadline
	// CategoryStream covers remote close, client-initiated interruption,
	// unexpected inbound messages, and I/O errors during streaming.
	CategoryStream
)

func (c Category) String() string {
	switch c {
	case CategoryHandshake:
		return "handshake"
	case CategoryAdmission:
		return "admission"
	case CategoryProtocol:
		return "protocol"
	case CategoryPolicy:
		return "policy"
	case CategoryService:
		return "service"
	case CategoryDeadline:
		return "deadline"
	case CategoryStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
// It wraps a cause (via github.com/pkg/errors, so Cause/StackTrace keep
// working) and tags it with a Category for programmatic branching.
type Error struct {
	Category Category
	Op       string
	cause    error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Category, e.Op, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Cause satisfies github.com/pkg/errors.Causer so pkg/errors helpers
// keep working across this boundary.
func (e *Error) Cause() error { return e.cause }

// E builds a categorized Error, wrapping cause with pkg/errors so a stack
// trace is attached the first time the error is created.
func E(category Category, op string, cause error) *Error {
	if cause == nil {
		cause = errors.New(op)
	} else {
		cause = errors.WithStack(cause)
	}
	return &Error{Category: category, Op: op, cause: cause}
}

// Is reports whether err (or any error it wraps) belongs to category.
func Is(err error, category Category) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			if e.Category == category {
				return true
			}
			err = e.cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CategoryOf returns the Category of err, or CategoryUnknown if err is not
// (or does not wrap) an *Error.
func CategoryOf(err error) Category {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			return as.Category
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	_ = e
	return CategoryUnknown
}
