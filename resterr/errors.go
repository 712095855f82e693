// Package resterr defines the discriminated error taxonomy surfaced by the
// REST client runtime to its callers.
//
// Design Notes:
//   - A single Kind enum distinguishes the error classes from the spec
//     rather than a hierarchy of error types, so callers can switch on one
//     field instead of type-asserting through several concrete types.
//   - Every constructor wraps an underlying cause (where one exists) with
//     fmt.Errorf's %w so the chain survives logging and errors.Is/As.
//   - Operation completion never uses this type to represent cancellation:
//     cancellation is a distinct outcome (see Outcome), not
//     an error, so callers cannot conflate "the user stopped this" with
//     "this failed."
package resterr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy surfaced by the runtime.
type Kind int

const (
	// KindNetwork is a transport-layer failure surfaced after retries were
	// exhausted. Carries the underlying transport error code.
	KindNetwork Kind = iota
	// KindEncodePayload is a fatal request-body serialization failure.
	KindEncodePayload
	// KindDecodeSuccessResponse is a fatal 2xx body decode failure.
	KindDecodeSuccessResponse
	// KindDecodeErrorResponse is a fatal non-2xx body decode failure.
	KindDecodeErrorResponse
	// KindServer is a well-formed non-2xx error body from the server.
	KindServer
	// KindUnhandledResponse is a status that matched no typed branch.
	KindUnhandledResponse
	// KindReadCache, KindDecodeCache, KindReadBundle, KindDecodeBundle,
	// KindEncodeCache, KindWriteCache and KindEmptyAddressList are
	// address-cache-specific; all recoverable at bootstrap.
	KindReadCache
	KindDecodeCache
	KindReadBundle
	KindDecodeBundle
	KindEncodeCache
	KindWriteCache
	KindEmptyAddressList
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindEncodePayload:
		return "encode_payload"
	case KindDecodeSuccessResponse:
		return "decode_success_response"
	case KindDecodeErrorResponse:
		return "decode_error_response"
	case KindServer:
		return "server"
	case KindUnhandledResponse:
		return "unhandled_response"
	case KindReadCache:
		return "read_cache"
	case KindDecodeCache:
		return "decode_cache"
	case KindReadBundle:
		return "read_bundle"
	case KindDecodeBundle:
		return "decode_bundle"
	case KindEncodeCache:
		return "encode_cache"
	case KindWriteCache:
		return "write_cache"
	case KindEmptyAddressList:
		return "empty_address_list"
	default:
		return "unknown"
	}
}

// ServerError is a well-formed error body decoded from a non-2xx response.
type ServerError struct {
	// Code is the server-assigned machine-readable error code, e.g.
	// "PUBKEY_IN_USE" or "MAX_DEVICES_REACHED".
	Code string
	// Detail is a human-readable message, when the server supplied one.
	Detail string
}

func (s *ServerError) Error() string {
	if s == nil {
		return "<nil server error>"
	}
	if s.Detail != "" {
		return fmt.Sprintf("%s: %s", s.Code, s.Detail)
	}
	return s.Code
}

// Error is the discriminated union callers see. Status and Server carry the
// detail for KindServer and KindUnhandledResponse; every other Kind carries
// its detail, if any, in the wrapped cause.
type Error struct {
	Kind   Kind
	Status int          // HTTP status, set for KindServer/KindUnhandledResponse
	Server *ServerError  // set for KindServer, optionally for KindUnhandledResponse
	cause  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Server != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Server.Error())
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap exposes the underlying cause so errors.Is/As keep working across
// the chain, matching the rest of the pack's fmt.Errorf("...: %w", err)
// convention.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, resterr.Network(nil)) style checks if they prefer
// that over a type switch on Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// Network wraps a transport-layer failure observed after retries were
// exhausted.
func Network(cause error) *Error {
	return &Error{Kind: KindNetwork, cause: cause}
}

// EncodePayload wraps a fatal request-encoding failure.
func EncodePayload(cause error) *Error {
	return &Error{Kind: KindEncodePayload, cause: cause}
}

// DecodeSuccessResponse wraps a fatal 2xx-body decode failure.
func DecodeSuccessResponse(cause error) *Error {
	return &Error{Kind: KindDecodeSuccessResponse, cause: cause}
}

// DecodeErrorResponse wraps a fatal non-2xx-body decode failure.
func DecodeErrorResponse(cause error) *Error {
	return &Error{Kind: KindDecodeErrorResponse, cause: cause}
}

// Server wraps a well-formed non-2xx error body.
func Server(status int, server *ServerError) *Error {
	return &Error{Kind: KindServer, Status: status, Server: server}
}

// UnhandledResponse wraps a status that matched no typed branch. server may
// be nil when the best-effort error-body decode itself failed (that failure
// is logged, never propagated).
func UnhandledResponse(status int, server *ServerError) *Error {
	return &Error{Kind: KindUnhandledResponse, Status: status, Server: server}
}

func cacheErr(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

func ReadCache(cause error) *Error      { return cacheErr(KindReadCache, cause) }
func DecodeCache(cause error) *Error    { return cacheErr(KindDecodeCache, cause) }
func ReadBundle(cause error) *Error     { return cacheErr(KindReadBundle, cause) }
func DecodeBundle(cause error) *Error   { return cacheErr(KindDecodeBundle, cause) }
func EncodeCache(cause error) *Error    { return cacheErr(KindEncodeCache, cause) }
func WriteCache(cause error) *Error     { return cacheErr(KindWriteCache, cause) }
func EmptyAddressList() *Error          { return &Error{Kind: KindEmptyAddressList} }

// TransportError is the contract an external transport's error must satisfy
// so the Operation Engine's retry decision never needs to
// type-switch on a concrete transport implementation.
type TransportError interface {
	error
	// Cancelled reports whether the failure represents user cancellation.
	Cancelled() bool
	// TransientLocal reports transient local conditions ("not connected to
	// internet", "roaming off", "call active") that should retry against
	// the *same* endpoint rather than trigger rotation.
	TransientLocal() bool
}
