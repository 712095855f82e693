// Package metrics exposes atomic counters for the REST client runtime.
// There is no forced exporter here — like the host-owned background
// scheduler, publishing these numbers anywhere (Prometheus, a log line, a
// UI panel) is the embedding application's call. Counters only accumulate
// and snapshot.
//
// Exported atomic fields, read via Load() in a point-in-time Snapshot; no
// locks needed since every field is independently atomic.
package metrics

import "sync/atomic"

// Counters tracks runtime counters across the address cache, operation
// engine and token manager.
type Counters struct {
	// Address cache / tracker.
	EndpointRotations atomic.Int64
	CacheBootstraps   atomic.Int64
	TrackerSuccesses  atomic.Int64
	TrackerFailures   atomic.Int64
	TrackerThrottled  atomic.Int64

	// Operation engine.
	OperationsStarted   atomic.Int64
	OperationsRetried   atomic.Int64
	OperationsCancelled atomic.Int64
	OperationsFailed    atomic.Int64
	OperationsOK        atomic.Int64

	// Token manager.
	TokenObtains  atomic.Int64
	TokenRefreshes atomic.Int64
	TokenCacheHits atomic.Int64
}

// New returns a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

// Snapshot is a point-in-time copy of every counter, safe to serialize or
// export without further synchronization.
type Snapshot struct {
	EndpointRotations   int64
	CacheBootstraps     int64
	TrackerSuccesses    int64
	TrackerFailures     int64
	TrackerThrottled    int64
	OperationsStarted   int64
	OperationsRetried   int64
	OperationsCancelled int64
	OperationsFailed    int64
	OperationsOK        int64
	TokenObtains        int64
	TokenRefreshes      int64
	TokenCacheHits      int64
}

// Snapshot copies every counter's current value.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		EndpointRotations:   c.EndpointRotations.Load(),
		CacheBootstraps:     c.CacheBootstraps.Load(),
		TrackerSuccesses:    c.TrackerSuccesses.Load(),
		TrackerFailures:     c.TrackerFailures.Load(),
		TrackerThrottled:    c.TrackerThrottled.Load(),
		OperationsStarted:   c.OperationsStarted.Load(),
		OperationsRetried:   c.OperationsRetried.Load(),
		OperationsCancelled: c.OperationsCancelled.Load(),
		OperationsFailed:    c.OperationsFailed.Load(),
		OperationsOK:        c.OperationsOK.Load(),
		TokenObtains:        c.TokenObtains.Load(),
		TokenRefreshes:      c.TokenRefreshes.Load(),
		TokenCacheHits:      c.TokenCacheHits.Load(),
	}
}
