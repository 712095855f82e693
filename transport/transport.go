// Package transport defines the external HTTPS transport collaborator the
// Operation Engine consumes, plus a default net/http-backed implementation.
//
// Certificate pinning, connection pooling and the actual TLS handshake are
// left to the embedder — DefaultTransport exists only so this package is
// independently testable and usable out of the box; production embedders
// are expected to supply their own Transport wrapping a pinned
// *http.Client.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Response is the synchronous (status, header, body) triple the Operation
// Engine's response handler maps to a typed result.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport is the external collaborator: hand it a fully-formed request,
// get back a Response or a transport-layer error. Errors returned here
// should implement resterr.TransportError when they represent cancellation
// or a transient local condition; any other error is treated as a generic
// transport failure that triggers endpoint rotation.
type Transport interface {
	Do(ctx context.Context, req *http.Request) (Response, error)
}

// genericError wraps a non-classified transport failure. Cancelled and
// TransientLocal both report false, so the Operation Engine's retry
// decision falls through to "rotate the endpoint."
type genericError struct {
	cause error
}

func (e *genericError) Error() string          { return fmt.Sprintf("transport: %v", e.cause) }
func (e *genericError) Unwrap() error          { return e.cause }
func (e *genericError) Cancelled() bool        { return false }
func (e *genericError) TransientLocal() bool   { return false }

// cancelledError reports a failure seen while ctx is done (cancelled or past
// its deadline) as user cancellation.
type cancelledError struct{ cause error }

func (e *cancelledError) Error() string        { return "transport: cancelled" }
func (e *cancelledError) Unwrap() error        { return e.cause }
func (e *cancelledError) Cancelled() bool      { return true }
func (e *cancelledError) TransientLocal() bool { return false }

// DefaultTransport adapts a *http.Client to the Transport interface, with
// an optional client-side rate limiter protecting the origin from a storm
// of retries across facades.
type DefaultTransport struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewDefaultTransport builds a DefaultTransport. A nil limiter means
// unlimited.
func NewDefaultTransport(client *http.Client, limiter *rate.Limiter) *DefaultTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DefaultTransport{client: client, limiter: limiter}
}

func (t *DefaultTransport) Do(ctx context.Context, req *http.Request) (Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return Response{}, &cancelledError{cause: err}
			}
			return Response{}, &genericError{cause: err}
		}
	}

	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, &cancelledError{cause: err}
		}
		return Response{}, &genericError{cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &genericError{cause: err}
	}

	return Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
