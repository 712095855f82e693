package addresstracker

import (
	"context"
	"errors"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/mullvad/restcore/addresscache"
)

func noShuffle(endpoints []addresscache.Endpoint) {}

func newCache(t *testing.T) *addresscache.Cache {
	t.Helper()
	dir := t.TempDir()
	return addresscache.New(addresscache.Options{
		CachePath:  filepath.Join(dir, "cache.json"),
		BundlePath: filepath.Join(dir, "missing-bundle.json"),
		Default:    addresscache.Endpoint{IP: netip.MustParseAddr("1.1.1.1"), Port: 443},
		Shuffle:    noShuffle,
	})
}

type fakeFetcher struct {
	endpoints []addresscache.Endpoint
	err       error
	calls     int
}

func (f *fakeFetcher) FetchAddresses(ctx context.Context) ([]addresscache.Endpoint, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.endpoints, nil
}

func TestUpdateThrottledWhenCacheFresh(t *testing.T) {
	cache := newCache(t)
	if err := cache.ReplaceEndpoints([]addresscache.Endpoint{
		{IP: netip.MustParseAddr("2.2.2.2"), Port: 443},
	}); err != nil {
		t.Fatal(err)
	}

	fetcher := &fakeFetcher{}
	tr := New(Options{
		Cache:          cache,
		Fetcher:        fetcher,
		UpdateInterval: 24 * time.Hour,
		RetryInterval:  15 * time.Minute,
	})

	outcome, err := tr.Update(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != UpdateThrottled {
		t.Fatalf("expected throttled, got %v", outcome)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no network call, got %d", fetcher.calls)
	}
}

func TestUpdateFetchesWhenCacheStale(t *testing.T) {
	cache := newCache(t)

	fetcher := &fakeFetcher{endpoints: []addresscache.Endpoint{
		{IP: netip.MustParseAddr("3.3.3.3"), Port: 443},
	}}
	tr := New(Options{
		Cache:          cache,
		Fetcher:        fetcher,
		UpdateInterval: 24 * time.Hour,
		RetryInterval:  15 * time.Minute,
	})

	outcome, err := tr.Update(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != UpdateFinished {
		t.Fatalf("expected finished, got %v", outcome)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected exactly one network call, got %d", fetcher.calls)
	}
	if cache.CurrentEndpoint().IP.String() != "3.3.3.3" {
		t.Fatalf("expected cache to adopt fetched endpoint, got %v", cache.CurrentEndpoint())
	}
}

func TestRescheduleOnFailureSetsRetryInterval(t *testing.T) {
	cache := newCache(t)
	fetcher := &fakeFetcher{err: errors.New("network down")}
	tr := New(Options{
		Cache:          cache,
		Fetcher:        fetcher,
		UpdateInterval: 24 * time.Hour,
		RetryInterval:  15 * time.Minute,
	})
	fixed := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	outcome, err := tr.Update(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	tr.reschedule(outcome, err)

	if tr.LastFailureAt() == nil {
		t.Fatal("expected LastFailureAt to be set after failure")
	}

	tr.mu.Lock()
	next := tr.job.NextRun
	tr.mu.Unlock()
	want := fixed.Add(15 * time.Minute)
	if next == nil || !next.Equal(want) {
		t.Fatalf("expected NextRun at %v after failure, got %v", want, next)
	}
	if got := tr.ScheduleBackgroundTask(); !got.Equal(want) {
		t.Fatalf("expected ScheduleBackgroundTask to report %v after failure, got %v", want, got)
	}
}

func TestRescheduleOnSuccessClearsFailureMarker(t *testing.T) {
	cache := newCache(t)
	fetcher := &fakeFetcher{endpoints: []addresscache.Endpoint{
		{IP: netip.MustParseAddr("4.4.4.4"), Port: 443},
	}}
	tr := New(Options{
		Cache:          cache,
		Fetcher:        fetcher,
		UpdateInterval: 24 * time.Hour,
		RetryInterval:  15 * time.Minute,
	})

	now := time.Now()
	tr.mu.Lock()
	tr.lastFailureAt = &now
	tr.mu.Unlock()

	outcome, err := tr.Update(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr.reschedule(outcome, err)

	if tr.LastFailureAt() != nil {
		t.Fatal("expected LastFailureAt to be cleared after a successful update")
	}
}

func TestStartIsNoOpWhileRunning(t *testing.T) {
	cache := newCache(t)
	fetcher := &fakeFetcher{endpoints: []addresscache.Endpoint{
		{IP: netip.MustParseAddr("5.5.5.5"), Port: 443},
	}}
	tr := New(Options{
		Cache:          cache,
		Fetcher:        fetcher,
		UpdateInterval: 24 * time.Hour,
		RetryInterval:  15 * time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.Start(ctx)
	firstTimer := tr.timer
	tr.Start(ctx)
	tr.mu.Lock()
	sameTimer := tr.timer == firstTimer
	tr.mu.Unlock()
	if !sameTimer {
		t.Fatal("expected second Start to be a no-op and leave the armed timer untouched")
	}
	tr.Stop()
}

func TestRegisterBackgroundTaskReportsCancellation(t *testing.T) {
	cache := newCache(t)
	fetcher := &fakeFetcher{endpoints: []addresscache.Endpoint{
		{IP: netip.MustParseAddr("6.6.6.6"), Port: 443},
	}}
	tr := New(Options{
		Cache:          cache,
		Fetcher:        fetcher,
		UpdateInterval: 24 * time.Hour,
		RetryInterval:  15 * time.Minute,
	})

	handler := tr.RegisterBackgroundTask()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := handler(ctx)
	if !outcome.IsCancelled() {
		t.Fatalf("expected cancelled outcome, got %v", outcome.Status())
	}
}
