package operationengine

import (
	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/metrics"
	"github.com/mullvad/restcore/restlog"
	"github.com/mullvad/restcore/transport"
)

// Engine owns one facade's operation queue. Every operation submitted to an
// Engine executes serially (max_concurrent = 1): the queue is a single-slot
// semaphore so a facade's operations never overlap, while separate Engines
// (one per facade) run fully in parallel. Operations waiting for the slot
// are not queued in order: whichever waiting goroutine acquires the
// semaphore next runs next, so start order need not follow submission order.
type Engine struct {
	sem       chan struct{}
	cache     *addresscache.Cache
	transport transport.Transport
	logger    *restlog.Logger
	metrics   *metrics.Counters
}

// New constructs an Engine bound to one address cache and transport.
func New(cache *addresscache.Cache, tr transport.Transport, logger *restlog.Logger, m *metrics.Counters) *Engine {
	if logger == nil {
		logger = restlog.Default
	}
	if m == nil {
		m = metrics.New()
	}
	return &Engine{
		sem:       make(chan struct{}, 1),
		cache:     cache,
		transport: tr,
		logger:    logger,
		metrics:   m,
	}
}

// Spec describes one logical REST call to submit to an Engine.
type Spec[T any] struct {
	// Name is used only for logging/metrics correlation.
	Name            string
	Strategy        RetryStrategy
	RequestHandler  RequestHandler
	ResponseHandler ResponseHandler[T]
	// CompletionExecutor runs the completion callback registered via
	// Handle.OnComplete. Defaults to a direct synchronous call if nil —
	// callers embedding a UI event loop should supply their dispatcher so
	// completion callbacks land on the right thread.
	CompletionExecutor func(func())
}

// Submit enqueues spec on e's serial queue and returns a Handle the caller
// uses to wait for or cancel the operation. Submit itself never blocks: each
// operation gets its own goroutine, which waits for the Engine's single slot
// and then executes. Submission order is not preserved among operations that
// wait for the slot at the same time.
func Submit[T any](e *Engine, spec Spec[T]) *Handle[T] {
	if spec.CompletionExecutor == nil {
		spec.CompletionExecutor = func(f func()) { f() }
	}

	op := newOperation(e, spec)
	go op.run()
	return op.handle()
}
