// Package proxyfacade is the thin per-service layer exposed to callers: a
// path prefix, the logical API hostname, and a common AddOperation helper
// that submits typed calls to an Operation Engine. Authorization is not
// configured here; each RequestHandler supplies its own AuthProvider, or nil.
package proxyfacade

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/config"
	"github.com/mullvad/restcore/operationengine"
	"github.com/mullvad/restcore/resterr"
)

// Facade bundles everything a concrete proxy (relayproxy, accountproxy, ...)
// needs to build operations: the path prefix, the logical API hostname, and
// the Engine every operation is submitted to.
type Facade struct {
	PathPrefix string
	Hostname   string
	Engine     *operationengine.Engine
}

// New constructs a Facade bound to engine, using cfg for the hostname.
func New(pathPrefix string, cfg config.Config, engine *operationengine.Engine) *Facade {
	return &Facade{
		PathPrefix: pathPrefix,
		Hostname:   cfg.DefaultAPIHostname,
		Engine:     engine,
	}
}

// RequestBuilder describes how to build one operation's request: the HTTP
// method, the path relative to PathPrefix, an optional JSON body, and an
// optional etag for a conditional GET.
type RequestBuilder struct {
	Method string
	Path   string
	Body   []byte
	ETag   string
}

// Build renders b into a fully-formed HTTP request against endpoint, with
// the Host header, Content-Type on bodied requests, and a weak
// If-None-Match header for conditional GETs.
func (f *Facade) Build(ctx context.Context, endpoint addresscache.Endpoint, b RequestBuilder) (*http.Request, error) {
	url := fmt.Sprintf("https://%s%s%s", endpoint.String(), f.PathPrefix, b.Path)

	var req *http.Request
	var err error
	if b.Body != nil {
		req, err = http.NewRequestWithContext(ctx, b.Method, url, bytes.NewReader(b.Body))
	} else {
		req, err = http.NewRequestWithContext(ctx, b.Method, url, nil)
	}
	if err != nil {
		return nil, err
	}

	req.Host = f.Hostname
	if b.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.ETag != "" {
		etag := b.ETag
		if len(etag) < 2 || etag[:2] != "W/" {
			etag = "W/" + etag
		}
		req.Header.Set("If-None-Match", etag)
	}
	return req, nil
}

// AddOperation submits a one-shot typed call to the facade's Engine.
func AddOperation[T any](f *Facade, spec operationengine.Spec[T]) *operationengine.Handle[T] {
	return operationengine.Submit(f.Engine, spec)
}

// ServerErrorCode returns the machine-readable server error code carried by
// err, and false when err carries none. err must itself be a *resterr.Error;
// wrapped errors are not unwrapped.
func ServerErrorCode(err error) (code string, ok bool) {
	var rerr *resterr.Error
	if e, isErr := err.(*resterr.Error); isErr {
		rerr = e
	}
	if rerr == nil || rerr.Server == nil {
		return "", false
	}
	return rerr.Server.Code, true
}
