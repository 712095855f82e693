package operationengine

import (
	"context"
	"net/http"

	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/restauth"
)

// RequestHandler synchronously produces a fully-formed HTTP request for an
// endpoint. AuthProvider returns nil when the operation needs no
// authorization, in which case the engine skips authorization resolution
// entirely and ApplyAuthorization is never called.
type RequestHandler interface {
	Build(ctx context.Context, endpoint addresscache.Endpoint) (*http.Request, error)
	AuthProvider() AuthProvider
	ApplyAuthorization(req *http.Request, auth restauth.Authorization)
}

// AuthProvider resolves an Authorization value. It must honour ctx
// cancellation: a caller cancelling mid-resolution should see Obtain return
// promptly with ctx.Err().
type AuthProvider interface {
	Obtain(ctx context.Context) (restauth.Authorization, error)
}

// ResponseHandler maps a synchronous (status, header, body) triple to a
// typed result. A non-nil error here is never retried — the transport
// succeeded, so this is a semantic failure surfaced as-is.
type ResponseHandler[T any] interface {
	Handle(status int, header http.Header, body []byte) (T, error)
}

// ResponseHandlerFunc adapts a plain function to ResponseHandler.
type ResponseHandlerFunc[T any] func(status int, header http.Header, body []byte) (T, error)

func (f ResponseHandlerFunc[T]) Handle(status int, header http.Header, body []byte) (T, error) {
	return f(status, header, body)
}
