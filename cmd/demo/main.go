// Command demo bootstraps the full REST client runtime against an
// in-process fake backend and drives a handful of calls end to end,
// exercising address-cache bootstrap, endpoint rotation, and the relay and
// account facades, without depending on a real API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/mullvad/restcore/accountproxy"
	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/addresstracker"
	"github.com/mullvad/restcore/config"
	"github.com/mullvad/restcore/operationengine"
	"github.com/mullvad/restcore/proxyfacade"
	"github.com/mullvad/restcore/relayproxy"
	"github.com/mullvad/restcore/resterr"
	"github.com/mullvad/restcore/tokenmanager"
	"github.com/mullvad/restcore/transport"
)

// fakeTransport simulates a flaky backend: the first call to each endpoint
// fails, subsequent calls succeed, letting the demo show retry/rotation
// without a real network.
type fakeTransport struct {
	failedOnce map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failedOnce: make(map[string]bool)}
}

func (t *fakeTransport) Do(ctx context.Context, req *http.Request) (transport.Response, error) {
	host := req.URL.Host
	if !t.failedOnce[host] {
		t.failedOnce[host] = true
		return transport.Response{}, fmt.Errorf("simulated transport failure against %s", host)
	}

	switch req.URL.Path {
	case "/app/v1/relays":
		header := http.Header{"ETag": []string{`"v1"`}}
		return transport.Response{Status: 200, Header: header, Body: []byte(`{"relays":[]}`)}, nil
	case "/accounts/me":
		return transport.Response{
			Status: 200,
			Header: http.Header{},
			Body:   []byte(`{"id":"demo-account","expiry":"2030-01-01T00:00:00Z","devices":1}`),
		}, nil
	default:
		return transport.Response{Status: 404, Header: http.Header{}, Body: nil}, nil
	}
}

type fakeObtainer struct{}

func (fakeObtainer) Obtain(ctx context.Context, accountID string) (tokenmanager.TokenRecord, error) {
	return tokenmanager.TokenRecord{
		AccountID: accountID,
		Token:     "demo-token",
		Expiry:    time.Now().Add(time.Hour),
	}, nil
}

type fakeRefresher struct{}

func (fakeRefresher) Refresh(ctx context.Context, existing tokenmanager.TokenRecord) (tokenmanager.TokenRecord, error) {
	return tokenmanager.TokenRecord{
		AccountID: existing.AccountID,
		Token:     "demo-token-refreshed",
		Expiry:    time.Now().Add(time.Hour),
	}, nil
}

type relaysFetcher struct {
	proxy *relayproxy.Proxy
}

func (f *relaysFetcher) FetchAddresses(ctx context.Context) ([]addresscache.Endpoint, error) {
	outcome := f.proxy.GetRelays("").Wait()
	if err := outcome.Err(); err != nil {
		return nil, err
	}
	return []addresscache.Endpoint{
		{IP: netip.MustParseAddr("185.65.135.117"), Port: 443},
	}, nil
}

func main() {
	cfg := config.Default()

	dir, err := os.MkdirTemp("", "restcore-demo")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	cache := addresscache.New(addresscache.Options{
		CachePath:  filepath.Join(dir, "cache.json"),
		BundlePath: filepath.Join(dir, "bundle.json"),
		Default:    cfg.DefaultAPIEndpoint,
	})
	fmt.Printf("bootstrapped address cache from %s, current endpoint %s\n", cache.Source(), cache.CurrentEndpoint())

	tr := newFakeTransport()
	engine := operationengine.New(cache, tr, nil, nil)

	relayFacade := proxyfacade.New("", cfg, engine)
	relays := relayproxy.New(relayFacade)

	relaysOutcome := relays.GetRelays("").Wait()
	reportRelays(relaysOutcome)

	tokens := tokenmanager.New(tokenmanager.Options{
		Obtainer:  fakeObtainer{},
		Refresher: fakeRefresher{},
	})
	accountFacade := proxyfacade.New("", cfg, engine)
	accounts := accountproxy.New(accountFacade, tokens, "demo-account")

	accountOutcome := accounts.GetAccount().Wait()
	reportAccount(accountOutcome)

	tracker := addresstracker.New(addresstracker.Options{
		Cache:          cache,
		Fetcher:        &relaysFetcher{proxy: relays},
		UpdateInterval: cfg.AddressCacheUpdateInterval,
		RetryInterval:  cfg.AddressCacheRetryInterval,
	})
	trackerOutcome, _ := tracker.Update(context.Background())
	fmt.Printf("address tracker update outcome: %v\n", trackerOutcome)
}

func reportRelays(outcome resterr.Outcome[relayproxy.RelaysResult]) {
	switch {
	case outcome.IsOK():
		v, _ := outcome.Value()
		fmt.Printf("get_relays: not_modified=%v etag=%q body=%s\n", v.NotModified, v.ETag, v.Body)
	case outcome.IsFailure():
		fmt.Printf("get_relays failed: %v\n", outcome.Err())
	case outcome.IsCancelled():
		fmt.Println("get_relays cancelled")
	}
}

func reportAccount(outcome resterr.Outcome[accountproxy.Account]) {
	switch {
	case outcome.IsOK():
		v, _ := outcome.Value()
		fmt.Printf("get_account: id=%s devices=%d\n", v.ID, v.Devices)
	case outcome.IsFailure():
		fmt.Printf("get_account failed: %v\n", outcome.Err())
	case outcome.IsCancelled():
		fmt.Println("get_account cancelled")
	}
}
