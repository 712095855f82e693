// Package relayproxy is an example unauthenticated proxy: a single
// conditional-GET operation against /app/v1/relays, exercising ETag
// handling and the 304 not_modified success variant.
package relayproxy

import (
	"context"
	"net/http"

	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/operationengine"
	"github.com/mullvad/restcore/proxyfacade"
	"github.com/mullvad/restcore/restauth"
	"github.com/mullvad/restcore/resterr"
)

// RelaysResult is the outcome of GetRelays: either the list was unchanged
// (NotModified) or a fresh body was fetched, tagged with its etag for the
// next conditional GET.
type RelaysResult struct {
	NotModified bool
	ETag        string
	Body        []byte
}

// Proxy exposes relay-list operations against the unauthenticated
// /app/v1/relays endpoint.
type Proxy struct {
	facade *proxyfacade.Facade
}

// New constructs a Proxy bound to facade.
func New(facade *proxyfacade.Facade) *Proxy {
	return &Proxy{facade: facade}
}

// GetRelays issues a conditional GET with the given etag (empty for an
// unconditional fetch) and returns a handle for the typed result.
func (p *Proxy) GetRelays(etag string) *operationengine.Handle[RelaysResult] {
	return proxyfacade.AddOperation(p.facade, operationengine.Spec[RelaysResult]{
		Name:     "get_relays",
		Strategy: operationengine.RetryStrategy{MaxAttempts: 2, Delay: operationengine.NeverDelay()},
		RequestHandler: &relaysRequestHandler{
			facade: p.facade,
			etag:   etag,
		},
		ResponseHandler: operationengine.ResponseHandlerFunc[RelaysResult](
			func(status int, header http.Header, body []byte) (RelaysResult, error) {
				switch {
				case status == http.StatusNotModified:
					return RelaysResult{NotModified: true}, nil
				case status >= 200 && status < 300:
					return RelaysResult{ETag: header.Get("ETag"), Body: body}, nil
				default:
					return RelaysResult{}, resterr.UnhandledResponse(status, nil)
				}
			}),
	})
}

type relaysRequestHandler struct {
	facade *proxyfacade.Facade
	etag   string
}

func (h *relaysRequestHandler) Build(ctx context.Context, endpoint addresscache.Endpoint) (*http.Request, error) {
	return h.facade.Build(ctx, endpoint, proxyfacade.RequestBuilder{
		Method: http.MethodGet,
		Path:   "/app/v1/relays",
		ETag:   h.etag,
	})
}

// AuthProvider returns nil: this endpoint is unauthenticated.
func (h *relaysRequestHandler) AuthProvider() operationengine.AuthProvider { return nil }

func (h *relaysRequestHandler) ApplyAuthorization(req *http.Request, auth restauth.Authorization) {}
