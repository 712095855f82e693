// Package accountproxy is an example authenticated proxy: a single
// /accounts/me operation that resolves a bearer token through the
// tokenmanager before every request, and maps the known server error codes
// (ErrorPubkeyInUse, ErrorMaxDevicesReached) to resterr KindServer errors;
// any other error body yields KindUnhandledResponse.
package accountproxy

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/operationengine"
	"github.com/mullvad/restcore/proxyfacade"
	"github.com/mullvad/restcore/restauth"
	"github.com/mullvad/restcore/resterr"
	"github.com/mullvad/restcore/restlog"
	"github.com/mullvad/restcore/tokenmanager"
)

// Account is the typed payload of a successful /accounts/me call.
type Account struct {
	ID      string `json:"id"`
	Expiry  string `json:"expiry"`
	Devices int    `json:"devices"`
}

// Known server error codes for this service.
const (
	ErrorPubkeyInUse       = "PUBKEY_IN_USE"
	ErrorMaxDevicesReached = "MAX_DEVICES_REACHED"
)

// Proxy exposes account operations authenticated via bearer token.
type Proxy struct {
	facade  *proxyfacade.Facade
	tokens  *tokenmanager.Manager
	account string
}

// New constructs a Proxy for one account, authenticated through tokens.
func New(facade *proxyfacade.Facade, tokens *tokenmanager.Manager, accountID string) *Proxy {
	return &Proxy{facade: facade, tokens: tokens, account: accountID}
}

// GetAccount fetches the caller's account details.
func (p *Proxy) GetAccount() *operationengine.Handle[Account] {
	return proxyfacade.AddOperation(p.facade, operationengine.Spec[Account]{
		Name:     "get_account",
		Strategy: operationengine.RetryStrategy{MaxAttempts: 2, Delay: operationengine.NeverDelay()},
		RequestHandler: &accountRequestHandler{
			facade:  p.facade,
			tokens:  p.tokens,
			account: p.account,
		},
		ResponseHandler: operationengine.ResponseHandlerFunc[Account](handleAccountResponse),
	})
}

type accountRequestHandler struct {
	facade  *proxyfacade.Facade
	tokens  *tokenmanager.Manager
	account string
}

func (h *accountRequestHandler) Build(ctx context.Context, endpoint addresscache.Endpoint) (*http.Request, error) {
	return h.facade.Build(ctx, endpoint, proxyfacade.RequestBuilder{
		Method: http.MethodGet,
		Path:   "/accounts/me",
	})
}

func (h *accountRequestHandler) AuthProvider() operationengine.AuthProvider {
	return &tokenAuthProvider{tokens: h.tokens, account: h.account}
}

func (h *accountRequestHandler) ApplyAuthorization(req *http.Request, auth restauth.Authorization) {
	req.Header.Set("Authorization", auth.Header())
}

// tokenAuthProvider resolves a bearer Authorization through the shared
// token manager, obtaining or refreshing the account's token as needed.
type tokenAuthProvider struct {
	tokens  *tokenmanager.Manager
	account string
}

func (p *tokenAuthProvider) Obtain(ctx context.Context) (restauth.Authorization, error) {
	tokOutcome := p.tokens.GetToken(ctx, p.account)
	if tokOutcome.IsCancelled() {
		return restauth.Authorization{}, ctx.Err()
	}
	if err := tokOutcome.Err(); err != nil {
		return restauth.Authorization{}, err
	}
	record, _ := tokOutcome.Value()

	authOutcome := p.tokens.GetAuthorization(ctx, record)
	if authOutcome.IsCancelled() {
		return restauth.Authorization{}, ctx.Err()
	}
	if err := authOutcome.Err(); err != nil {
		return restauth.Authorization{}, err
	}
	auth, _ := authOutcome.Value()
	return auth, nil
}

type serverErrorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func handleAccountResponse(status int, header http.Header, body []byte) (Account, error) {
	if status >= 200 && status < 300 {
		var account Account
		if err := json.Unmarshal(body, &account); err != nil {
			return Account{}, resterr.DecodeSuccessResponse(err)
		}
		return account, nil
	}

	var serr serverErrorBody
	if err := json.Unmarshal(body, &serr); err != nil {
		restlog.Default.Warn("", "account proxy: best-effort server error decode failed", err, restlog.F("status", status))
		return Account{}, resterr.UnhandledResponse(status, nil)
	}

	switch serr.Code {
	case ErrorPubkeyInUse, ErrorMaxDevicesReached:
		return Account{}, resterr.Server(status, &resterr.ServerError{Code: serr.Code, Detail: serr.Detail})
	default:
		return Account{}, resterr.UnhandledResponse(status, &resterr.ServerError{Code: serr.Code, Detail: serr.Detail})
	}
}
