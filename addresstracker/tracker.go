// Package addresstracker periodically refreshes an addresscache.Cache by
// asking the API for its current address list, backing off on failure and
// handing scheduling off to a host-provided background-task facility.
package addresstracker

import (
	"context"
	"sync"
	"time"

	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/metrics"
	"github.com/mullvad/restcore/resterr"
	"github.com/mullvad/restcore/restlog"
)

// UpdateOutcome is the result of a refresh attempt that did not fail:
// finished or throttled. Update reports a failure through its error return;
// the UpdateOutcome returned alongside a non-nil error is UpdateFinished and
// carries no information.
type UpdateOutcome int

const (
	// UpdateFinished means the cache was queried and replace_endpoints
	// applied successfully.
	UpdateFinished UpdateOutcome = iota
	// UpdateThrottled means the refresh short-circuited because the cache
	// was already fresh.
	UpdateThrottled
)

// Fetcher retrieves the current address list from the API. Implementations
// typically wrap a proxyfacade operation.
type Fetcher interface {
	FetchAddresses(ctx context.Context) ([]addresscache.Endpoint, error)
}

// Job mirrors a host scheduler's bookkeeping for one recurring task: last
// run, next run, and run/fail counters for diagnostics.
type Job struct {
	LastRun   *time.Time
	NextRun   *time.Time
	RunCount  int64
	FailCount int64
}

// Tracker drives periodic refresh of an address cache. Exactly one timer is
// armed at any time; Start while already running is a no-op, and Stop
// cancels any armed timer.
type Tracker struct {
	cache          *addresscache.Cache
	fetcher        Fetcher
	updateInterval time.Duration
	retryInterval  time.Duration
	logger         *restlog.Logger
	metrics        *metrics.Counters

	mu            sync.Mutex
	running       bool
	timer         *time.Timer
	stopCh        chan struct{}
	lastFailureAt *time.Time
	job           Job

	// now is overridable for deterministic tests.
	now func() time.Time
}

// Options configures a Tracker at construction.
type Options struct {
	Cache          *addresscache.Cache
	Fetcher        Fetcher
	UpdateInterval time.Duration
	RetryInterval  time.Duration
	Logger         *restlog.Logger
	Metrics        *metrics.Counters
}

// New constructs a Tracker bound to cache and fetcher. It does not start
// the periodic timer; call Start for that.
func New(opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = restlog.Default
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Tracker{
		cache:          opts.Cache,
		fetcher:        opts.Fetcher,
		updateInterval: opts.UpdateInterval,
		retryInterval:  opts.RetryInterval,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            time.Now,
	}
}

// Start begins periodic refresh. A no-op if already running.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.armTimer(0)
	go t.loop(ctx)
}

// Stop cancels any armed timer and ends the periodic loop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	close(t.stopCh)
}

func (t *Tracker) loop(ctx context.Context) {
	for {
		t.mu.Lock()
		stopCh := t.stopCh
		t.mu.Unlock()
		if stopCh == nil {
			return
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.fire():
			outcome, err := t.Update(ctx)
			t.reschedule(outcome, err)
		}
	}
}

// fire returns the channel of the currently armed timer. A nil timer (Stop
// ran concurrently with loop evaluating this select) yields a nil channel,
// which blocks forever and lets the stopCh case win instead of panicking.
func (t *Tracker) fire() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

// armTimer stops any previously armed timer and arms a new one. A
// non-positive duration fires essentially immediately (time.NewTimer treats
// it the same as a zero duration).
func (t *Tracker) armTimer(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.NewTimer(d)
}

// reschedule applies the scheduling algorithm: a finished or throttled
// update clears the failure marker and schedules against the cache's last
// successful update time; a failure or cancellation schedules a short
// retry.
func (t *Tracker) reschedule(outcome UpdateOutcome, err error) {
	now := t.now()
	t.mu.Lock()
	t.job.RunCount++
	t.mu.Unlock()

	if err != nil {
		t.mu.Lock()
		t.lastFailureAt = &now
		t.job.FailCount++
		t.job.LastRun = &now
		nextRun := now.Add(t.retryInterval)
		t.job.NextRun = &nextRun
		t.mu.Unlock()
		t.armTimer(t.retryInterval)
		return
	}

	t.mu.Lock()
	t.lastFailureAt = nil
	t.mu.Unlock()

	next := t.cache.LastUpdateTime().Add(t.updateInterval)
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	t.armTimer(delay)

	t.mu.Lock()
	t.job.LastRun = &now
	nextRun := now.Add(delay)
	t.job.NextRun = &nextRun
	t.mu.Unlock()
}

// Update runs a single refresh attempt: throttled short-circuit if the
// cache is already fresh, otherwise fetch the address list and apply it.
func (t *Tracker) Update(ctx context.Context) (UpdateOutcome, error) {
	if t.now().Sub(t.cache.LastUpdateTime()) < t.updateInterval {
		t.metrics.TrackerThrottled.Add(1)
		return UpdateThrottled, nil
	}

	endpoints, err := t.fetcher.FetchAddresses(ctx)
	if err != nil {
		t.metrics.TrackerFailures.Add(1)
		t.logger.Error("", "address tracker: fetch failed", err)
		return UpdateFinished, err
	}

	if err := t.cache.ReplaceEndpoints(endpoints); err != nil {
		t.metrics.TrackerFailures.Add(1)
		t.logger.Error("", "address tracker: replace_endpoints failed", err)
		return UpdateFinished, err
	}

	t.metrics.TrackerSuccesses.Add(1)
	return UpdateFinished, nil
}

// RegisterBackgroundTask adapts the tracker to a host scheduler: the
// returned handler runs one update, reschedules the next invocation, and
// reports the outcome. Cancelling ctx maps to operation cancellation.
func (t *Tracker) RegisterBackgroundTask() func(ctx context.Context) resterr.Outcome[UpdateOutcome] {
	return func(ctx context.Context) resterr.Outcome[UpdateOutcome] {
		outcome, err := t.Update(ctx)
		t.reschedule(outcome, err)

		if ctx.Err() != nil {
			return resterr.Cancelled[UpdateOutcome]()
		}
		if err != nil {
			return resterr.Failure[UpdateOutcome](err)
		}
		return resterr.OK(outcome)
	}
}

// ScheduleBackgroundTask reports when the host should next invoke the
// handler returned by RegisterBackgroundTask, based on the tracker's
// internal bookkeeping.
func (t *Tracker) ScheduleBackgroundTask() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.NextRun != nil {
		return *t.job.NextRun
	}
	return t.cache.LastUpdateTime().Add(t.updateInterval)
}

// LastFailureAt reports the wall-clock time of the most recent failed or
// cancelled update, or nil if the tracker has never failed since its last
// success.
func (t *Tracker) LastFailureAt() *time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFailureAt
}
