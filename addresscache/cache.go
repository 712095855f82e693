package addresscache

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mullvad/restcore/resterr"
	"github.com/mullvad/restcore/restlog"
)

// Shuffler randomizes the order of a slice of endpoints in place. Injectable
// so tests get deterministic ordering instead of depending on math/rand's
// global state.
type Shuffler func(endpoints []Endpoint)

// defaultShuffler uses math/rand's package-level source. The ordering only
// needs to avoid a predictable failover pattern, not resist an adversary.
func defaultShuffler(endpoints []Endpoint) {
	rand.Shuffle(len(endpoints), func(i, j int) {
		endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
	})
}

// Options configures a Cache at construction.
type Options struct {
	// CachePath is the on-disk persisted snapshot location.
	CachePath string
	// BundlePath is the bundled seed file shipped with the application.
	BundlePath string
	// Default is the built-in single endpoint adopted when both disk and
	// bundle bootstrap fail.
	Default Endpoint
	// Shuffle randomizes endpoint order on bootstrap-from-bundle and on
	// replace_endpoints. Defaults to defaultShuffler.
	Shuffle Shuffler
	// Logger receives chained-cause records for recoverable bootstrap
	// failures. Defaults to restlog.Default.
	Logger *restlog.Logger
}

// Cache is the persistent, priority-ordered pool of candidate API
// endpoints.
//
// Concurrency: all mutable state sits behind mu. Read paths
// (CurrentEndpoint) hold it only long enough to copy the head; write paths
// hold it across persistence so a torn snapshot is never observable.
type Cache struct {
	mu     sync.Mutex
	snap   Snapshot
	source Source

	store   *store
	def     Endpoint
	shuffle Shuffler
	log     *restlog.Logger
}

// New bootstraps a Cache: disk, falling back to bundle, falling back to the
// built-in default. Bootstrap never fails.
func New(opts Options) *Cache {
	if opts.Shuffle == nil {
		opts.Shuffle = defaultShuffler
	}
	if opts.Logger == nil {
		opts.Logger = restlog.Default
	}

	c := &Cache{
		store:   newStore(opts.CachePath, opts.BundlePath),
		def:     opts.Default,
		shuffle: opts.Shuffle,
		log:     opts.Logger,
	}

	c.bootstrap()
	return c
}

func (c *Cache) bootstrap() {
	if snap, err := c.store.readDisk(); err == nil && len(snap.Endpoints) > 0 {
		c.snap = snap
		c.source = SourceDisk
		return
	} else if err != nil {
		c.log.Warn("", "address cache: disk bootstrap unavailable, falling back to bundle", err)
	}

	if snap, err := c.store.readBundle(); err == nil && len(snap.Endpoints) > 0 {
		snap.Endpoints = dedup(snap.Endpoints)
		c.shuffle(snap.Endpoints)
		c.snap = snap
		c.source = SourceBundle

		if err := c.store.write(c.snap); err != nil {
			// Best-effort: logged, not fatal.
			c.log.Warn("", "address cache: failed to persist bundle-seeded snapshot", err)
		}
		return
	} else if err != nil {
		c.log.Warn("", "address cache: bundle bootstrap unavailable, falling back to built-in default", err)
	}

	c.snap = Snapshot{UpdatedAt: epoch, Endpoints: []Endpoint{c.def}}
	c.source = SourceDefault
}

// CurrentEndpoint returns the head of the list. Never fails; never blocks
// beyond a short critical section.
func (c *Cache) CurrentEndpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Endpoints[0]
}

// LastUpdateTime returns the wall-clock time of the last successful
// refresh, or epoch-0 if the cache has never been successfully refreshed.
func (c *Cache) LastUpdateTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.UpdatedAt
}

// Source reports the provenance of the currently held snapshot.
func (c *Cache) Source() Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Snapshot returns a defensive copy of the full current snapshot, for
// diagnostics and tests.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// RotateAfterFailure moves failed to the tail and returns the new head, if
// failed is still the current head. If a concurrent caller already rotated
// past failed, state is left unchanged and the current head is returned —
// this is what makes rotation idempotent under concurrent retries.
func (c *Cache) RotateAfterFailure(failed Endpoint) Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap.Endpoints[0] != failed {
		return c.snap.Endpoints[0]
	}

	rotated := make([]Endpoint, len(c.snap.Endpoints))
	copy(rotated, c.snap.Endpoints[1:])
	rotated[len(rotated)-1] = failed
	c.snap.Endpoints = rotated

	if err := c.store.write(c.snap); err != nil {
		c.log.Error("", "address cache: failed to persist rotation", err)
	}

	return c.snap.Endpoints[0]
}

// ReplaceEndpoints adopts a freshly fetched endpoint list. Rejects empty
// input. If the endpoint *set* is unchanged, only UpdatedAt is bumped;
// otherwise the new list is shuffled and the previously-current endpoint is
// pinned back to the head if it still appears, then persisted.
//
// updatedAt is set only after persistence succeeds: a fetch-succeeded-but-
// persist-failed refresh does not advance the throttle window, so the
// tracker will retry sooner rather than silently believing it is fresh.
func (c *Cache) ReplaceEndpoints(endpoints []Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(endpoints) == 0 {
		return resterr.EmptyAddressList()
	}

	deduped := dedup(endpoints)
	previousHead := c.snap.Endpoints[0]

	if sameSet(deduped, c.snap.Endpoints) {
		next := c.snap
		next.UpdatedAt = time.Now()
		if err := c.store.write(next); err != nil {
			return err
		}
		c.snap = next
		return nil
	}

	shuffled := make([]Endpoint, len(deduped))
	copy(shuffled, deduped)
	c.shuffle(shuffled)
	pinCurrentToHead(shuffled, previousHead)

	next := Snapshot{UpdatedAt: time.Now(), Endpoints: shuffled}
	if err := c.store.write(next); err != nil {
		return err
	}
	c.snap = next
	return nil
}

// pinCurrentToHead moves previousHead to index 0 of endpoints if present,
// leaving the rest of the shuffled order untouched.
func pinCurrentToHead(endpoints []Endpoint, previousHead Endpoint) {
	for i, e := range endpoints {
		if e == previousHead {
			endpoints[0], endpoints[i] = endpoints[i], endpoints[0]
			return
		}
	}
}
