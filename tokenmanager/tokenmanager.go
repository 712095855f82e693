// Package tokenmanager caches per-account access tokens and serves them
// with obtain-on-miss and refresh-on-expiry semantics, coalescing
// concurrent obtain/refresh calls for the same account.
package tokenmanager

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mullvad/restcore/metrics"
	"github.com/mullvad/restcore/restauth"
	"github.com/mullvad/restcore/resterr"
)

// TokenRecord is one cached access token.
type TokenRecord struct {
	AccountID string
	Token     string
	Expiry    time.Time
}

// valid reports whether the record is still usable at now. The comparison
// is strict: a record with Expiry == now is already expired.
func (r TokenRecord) valid(now time.Time) bool {
	return r.Expiry.After(now)
}

// Obtainer issues a brand-new token for an account (first obtain).
type Obtainer interface {
	Obtain(ctx context.Context, accountID string) (TokenRecord, error)
}

// Refresher exchanges an existing (possibly expired) token for a new one.
type Refresher interface {
	Refresh(ctx context.Context, existing TokenRecord) (TokenRecord, error)
}

// Manager is a per-account access-token cache layered on obtain/refresh
// operations. At most one obtain or refresh per account runs at a time;
// concurrent callers for the same account coalesce onto the in-flight call.
type Manager struct {
	obtainer  Obtainer
	refresher Refresher
	metrics   *metrics.Counters

	mu      sync.Mutex
	records map[string]TokenRecord

	group singleflight.Group

	now func() time.Time
}

// Options configures a Manager at construction.
type Options struct {
	Obtainer  Obtainer
	Refresher Refresher
	Metrics   *metrics.Counters
}

// New constructs a Manager with an empty token store.
func New(opts Options) *Manager {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Manager{
		obtainer:  opts.Obtainer,
		refresher: opts.Refresher,
		metrics:   opts.Metrics,
		records:   make(map[string]TokenRecord),
		now:       time.Now,
	}
}

func (m *Manager) get(accountID string) (TokenRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[accountID]
	return rec, ok
}

func (m *Manager) put(rec TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.AccountID] = rec
}

// GetToken returns a non-expired cached record for accountID if present,
// else obtains a fresh one. Concurrent callers for the same account
// coalesce onto a single in-flight obtain.
func (m *Manager) GetToken(ctx context.Context, accountID string) resterr.Outcome[TokenRecord] {
	if rec, ok := m.get(accountID); ok && rec.valid(m.now()) {
		m.metrics.TokenCacheHits.Add(1)
		return resterr.OK(rec)
	}

	v, err, _ := m.group.Do(accountID, func() (interface{}, error) {
		if rec, ok := m.get(accountID); ok && rec.valid(m.now()) {
			return rec, nil
		}
		m.metrics.TokenObtains.Add(1)
		rec, err := m.obtainer.Obtain(ctx, accountID)
		if err != nil {
			return TokenRecord{}, err
		}
		m.put(rec)
		return rec, nil
	})

	if ctx.Err() != nil {
		return resterr.Cancelled[TokenRecord]()
	}
	if err != nil {
		return resterr.Failure[TokenRecord](err)
	}
	return resterr.OK(v.(TokenRecord))
}

// GetAuthorization returns a bearer Authorization for record if it is still
// valid, otherwise refreshes it (using record as the refresh credential),
// installs the new record atomically, and returns the refreshed bearer
// token.
func (m *Manager) GetAuthorization(ctx context.Context, record TokenRecord) resterr.Outcome[restauth.Authorization] {
	if record.valid(m.now()) {
		return resterr.OK(restauth.BearerToken(record.Token))
	}

	v, err, _ := m.group.Do(record.AccountID, func() (interface{}, error) {
		if rec, ok := m.get(record.AccountID); ok && rec.valid(m.now()) {
			return rec, nil
		}
		m.metrics.TokenRefreshes.Add(1)
		rec, err := m.refresher.Refresh(ctx, record)
		if err != nil {
			return TokenRecord{}, err
		}
		m.put(rec)
		return rec, nil
	})

	if ctx.Err() != nil {
		return resterr.Cancelled[restauth.Authorization]()
	}
	if err != nil {
		return resterr.Failure[restauth.Authorization](err)
	}
	return resterr.OK(restauth.BearerToken(v.(TokenRecord).Token))
}
