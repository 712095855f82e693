package operationengine

import (
	"context"
	"net/http"
	"net/netip"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/restauth"
	"github.com/mullvad/restcore/resterr"
	"github.com/mullvad/restcore/transport"
)

func ep(ip string, port uint16) addresscache.Endpoint {
	return addresscache.Endpoint{IP: netip.MustParseAddr(ip), Port: port}
}

func noShuffle(endpoints []addresscache.Endpoint) {}

func newTestCacheWith(t *testing.T, endpoints ...addresscache.Endpoint) *addresscache.Cache {
	t.Helper()
	dir := t.TempDir()
	c := addresscache.New(addresscache.Options{
		CachePath:  filepath.Join(dir, "cache.json"),
		BundlePath: filepath.Join(dir, "missing-bundle.json"),
		Default:    endpoints[0],
		Shuffle:    noShuffle,
	})
	if err := c.ReplaceEndpoints(endpoints); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
	return c
}

// passthroughHandler builds a trivial GET request and never requires auth.
type passthroughHandler struct{}

func (passthroughHandler) Build(ctx context.Context, endpoint addresscache.Endpoint) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, "https://"+endpoint.String()+"/ping", nil)
}
func (passthroughHandler) AuthProvider() AuthProvider { return nil }
func (passthroughHandler) ApplyAuthorization(req *http.Request, auth restauth.Authorization) {}

// alwaysFailTransport fails every call with a generic (non-transient,
// non-cancelled) transport error, recording which endpoint each attempt hit.
type alwaysFailTransport struct {
	mu   sync.Mutex
	hits []string
}

type genericTransportErr struct{}

func (genericTransportErr) Error() string        { return "boom" }
func (genericTransportErr) Cancelled() bool      { return false }
func (genericTransportErr) TransientLocal() bool { return false }

func (t *alwaysFailTransport) Do(ctx context.Context, req *http.Request) (transport.Response, error) {
	t.mu.Lock()
	t.hits = append(t.hits, req.URL.Host)
	t.mu.Unlock()
	return transport.Response{}, genericTransportErr{}
}

type transientLocalErr struct{}

func (transientLocalErr) Error() string        { return "not connected to internet" }
func (transientLocalErr) Cancelled() bool      { return false }
func (transientLocalErr) TransientLocal() bool { return true }

// sequenceTransport returns the queued errors/responses in order, then the
// final entry forever.
type sequenceTransport struct {
	mu    sync.Mutex
	hits  []string
	steps []step
	i     int
}

type step struct {
	err  error
	resp transport.Response
}

func (t *sequenceTransport) Do(ctx context.Context, req *http.Request) (transport.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hits = append(t.hits, req.URL.Host)
	idx := t.i
	if idx >= len(t.steps) {
		idx = len(t.steps) - 1
	}
	t.i++
	s := t.steps[idx]
	return s.resp, s.err
}

type okResponseHandler struct{}

func (okResponseHandler) Handle(status int, header http.Header, body []byte) (string, error) {
	return "ok", nil
}

func TestFailoverRotatesThroughAllEndpoints(t *testing.T) {
	a, b, c := ep("1.1.1.1", 443), ep("2.2.2.2", 443), ep("3.3.3.3", 443)
	cache := newTestCacheWith(t, a, b, c)
	// ReplaceEndpoints pins a back to head via seeding order; force order.
	for cache.CurrentEndpoint() != a {
		cache.RotateAfterFailure(cache.CurrentEndpoint())
	}

	tr := &alwaysFailTransport{}
	engine := New(cache, tr, nil, nil)

	handle := Submit(engine, Spec[string]{
		Name:            "test",
		Strategy:        RetryStrategy{MaxAttempts: 2, Delay: NeverDelay()},
		RequestHandler:  passthroughHandler{},
		ResponseHandler: okResponseHandler{},
	})

	outcome := handle.Wait()
	if !outcome.IsFailure() {
		t.Fatalf("expected failure outcome, got status %v", outcome.Status())
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.hits) != 3 {
		t.Fatalf("expected exactly 3 transport attempts (N+1), got %d: %v", len(tr.hits), tr.hits)
	}
	want := []string{a.String(), b.String(), c.String()}
	for i, h := range want {
		if tr.hits[i] != h {
			t.Fatalf("attempt %d: got host %s, want %s", i+1, tr.hits[i], h)
		}
	}

	if cache.CurrentEndpoint() != a {
		t.Fatalf("expected cache to cycle back to %v, got %v", a, cache.CurrentEndpoint())
	}
}

func TestTransientLocalErrorKeepsSameEndpoint(t *testing.T) {
	a, b := ep("1.1.1.1", 443), ep("2.2.2.2", 443)
	cache := newTestCacheWith(t, a, b)
	for cache.CurrentEndpoint() != a {
		cache.RotateAfterFailure(cache.CurrentEndpoint())
	}

	tr := &sequenceTransport{steps: []step{
		{err: transientLocalErr{}},
		{err: transientLocalErr{}},
		{resp: transport.Response{Status: 200, Body: []byte("{}")}},
	}}
	engine := New(cache, tr, nil, nil)

	handle := Submit(engine, Spec[string]{
		Strategy:        RetryStrategy{MaxAttempts: 3, Delay: NeverDelay()},
		RequestHandler:  passthroughHandler{},
		ResponseHandler: okResponseHandler{},
	})

	outcome := handle.Wait()
	if !outcome.IsOK() {
		t.Fatalf("expected ok outcome, got status %v", outcome.Status())
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.hits) != 3 {
		t.Fatalf("expected 3 transport calls, got %d", len(tr.hits))
	}
	for _, h := range tr.hits {
		if h != a.String() {
			t.Fatalf("expected every call to hit %v, got %v", a, tr.hits)
		}
	}
	if cache.CurrentEndpoint() != a {
		t.Fatalf("cache should be unchanged, current = %v", cache.CurrentEndpoint())
	}
}

func TestCancellationDuringBackoffCompletesExactlyOnce(t *testing.T) {
	a := ep("1.1.1.1", 443)
	cache := newTestCacheWith(t, a)

	tr := &alwaysFailTransport{}
	engine := New(cache, tr, nil, nil)

	handle := Submit(engine, Spec[string]{
		Strategy:        RetryStrategy{MaxAttempts: 5, Delay: AfterDelay(30 * time.Second)},
		RequestHandler:  passthroughHandler{},
		ResponseHandler: okResponseHandler{},
	})

	// Give the first attempt time to fail and enter backoff.
	time.Sleep(50 * time.Millisecond)

	var completions int32
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			handle.Cancel()
		}()
	}

	outcome := handle.Wait()
	wg.Wait()

	if !outcome.IsCancelled() {
		t.Fatalf("expected cancelled outcome, got %v", outcome.Status())
	}

	handle.OnComplete(func(o resterr.Outcome[string]) {
		atomic.AddInt32(&completions, 1)
	})
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&completions) != 1 {
		t.Fatalf("expected completion callback exactly once, got %d", completions)
	}

	tr.mu.Lock()
	hits := len(tr.hits)
	tr.mu.Unlock()
	if hits != 1 {
		t.Fatalf("expected exactly 1 transport attempt before cancellation, got %d", hits)
	}
}

func TestSerialExecutionWithinOneEngine(t *testing.T) {
	a := ep("1.1.1.1", 443)
	cache := newTestCacheWith(t, a)

	var active int32
	var maxActive int32
	tr := &countingTransport{
		active:    &active,
		maxActive: &maxActive,
	}
	engine := New(cache, tr, nil, nil)

	var handles []*Handle[string]
	for i := 0; i < 5; i++ {
		handles = append(handles, Submit(engine, Spec[string]{
			Strategy:        RetryStrategy{MaxAttempts: 0, Delay: NeverDelay()},
			RequestHandler:  passthroughHandler{},
			ResponseHandler: okResponseHandler{},
		}))
	}

	for _, h := range handles {
		if o := h.Wait(); !o.IsOK() {
			t.Fatalf("expected ok, got %v (%v)", o.Status(), o.Err())
		}
	}

	if atomic.LoadInt32(&maxActive) > 1 {
		t.Fatalf("expected max_concurrent = 1 within one engine, observed %d concurrent", maxActive)
	}
}

type countingTransport struct {
	active, maxActive *int32
}

func (c *countingTransport) Do(ctx context.Context, req *http.Request) (transport.Response, error) {
	n := atomic.AddInt32(c.active, 1)
	for {
		old := atomic.LoadInt32(c.maxActive)
		if n <= old || atomic.CompareAndSwapInt32(c.maxActive, old, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(c.active, -1)
	return transport.Response{Status: 200, Body: []byte("{}")}, nil
}
