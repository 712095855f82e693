package operationengine

import (
	"context"
	"sync"
	"time"

	"github.com/mullvad/restcore/addresscache"
	"github.com/mullvad/restcore/resterr"
	"github.com/mullvad/restcore/restlog"
)

// Handle is returned to the caller on Submit. It lets the caller wait for
// the terminal Outcome or cancel the operation; both are safe to call
// concurrently and from any goroutine.
type Handle[T any] struct {
	op *operation[T]
}

// Cancel requests cancellation. Idempotent: multiple calls are safe, and a
// cancel after completion is a no-op.
func (h *Handle[T]) Cancel() {
	h.op.cancelOnce.Do(func() {
		h.op.cancel()
	})
}

// Wait blocks until the operation completes and returns its outcome.
func (h *Handle[T]) Wait() resterr.Outcome[T] {
	<-h.op.done
	return h.op.result
}

// OnComplete registers cb to run exactly once, on spec.CompletionExecutor,
// when the operation completes. If the operation has already completed,
// cb runs (via the executor) immediately.
func (h *Handle[T]) OnComplete(cb func(resterr.Outcome[T])) {
	op := h.op
	go func() {
		<-op.done
		op.spec.CompletionExecutor(func() { cb(op.result) })
	}()
}

// operation is the internal state for one in-flight (or completed) call.
// All suspension points (auth resolution, transport wait, backoff timer)
// derive their context from ctx, so cancelling ctx is sufficient to
// unblock whichever one is currently active.
type operation[T any] struct {
	engine *Engine
	spec   Spec[T]

	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once

	finishOnce sync.Once
	done       chan struct{}
	result     resterr.Outcome[T]

	state        State
	stateMu      sync.Mutex
	attemptsUsed int

	correlationID string
}

func newOperation[T any](e *Engine, spec Spec[T]) *operation[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &operation[T]{
		engine:        e,
		spec:          spec,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		state:         StatePending,
		correlationID: restlog.NewCorrelationID(),
	}
}

func (o *operation[T]) handle() *Handle[T] {
	return &Handle[T]{op: o}
}

func (o *operation[T]) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// finish completes the operation exactly once, regardless of which of the
// ok/failure/cancelled outcomes reaches it first or how many callers race to
// finish it.
func (o *operation[T]) finish(outcome resterr.Outcome[T]) {
	o.finishOnce.Do(func() {
		o.setState(StateFinished)
		o.result = outcome
		switch outcome.Status() {
		case resterr.StatusOK:
			o.engine.metrics.OperationsOK.Add(1)
			o.engine.logger.Info(o.correlationID, "operation completed", restlog.F("name", o.spec.Name))
		case resterr.StatusFailure:
			o.engine.metrics.OperationsFailed.Add(1)
			o.engine.logger.Error(o.correlationID, "operation failed", outcome.Err(), restlog.F("name", o.spec.Name))
		case resterr.StatusCancelled:
			o.engine.metrics.OperationsCancelled.Add(1)
			o.engine.logger.Warn(o.correlationID, "operation cancelled", nil, restlog.F("name", o.spec.Name))
		}
		close(o.done)
	})
}

// run acquires the facade's single queue slot, serializing this operation
// with respect to every other operation on the same Engine, then executes
// the attempt loop.
func (o *operation[T]) run() {
	o.engine.metrics.OperationsStarted.Add(1)
	o.engine.logger.Info(o.correlationID, "operation started", restlog.F("name", o.spec.Name))

	select {
	case o.engine.sem <- struct{}{}:
	case <-o.ctx.Done():
		o.finish(resterr.Cancelled[T]())
		return
	}
	defer func() { <-o.engine.sem }()

	if o.ctx.Err() != nil {
		o.finish(resterr.Cancelled[T]())
		return
	}

	o.setState(StateRunning)
	o.attemptLoop()
}

// attemptLoop drives one operation's state machine: build request,
// optionally resolve authorization, invoke the transport, handle the
// response, and on transport failure decide whether to retry (same
// endpoint, rotated endpoint, or give up) per the retry strategy.
func (o *operation[T]) attemptLoop() {
	for {
		if o.ctx.Err() != nil {
			o.finish(resterr.Cancelled[T]())
			return
		}

		endpoint := o.engine.cache.CurrentEndpoint()

		req, err := o.spec.RequestHandler.Build(o.ctx, endpoint)
		if err != nil {
			o.finish(resterr.Failure[T](resterr.EncodePayload(err)))
			return
		}

		if provider := o.spec.RequestHandler.AuthProvider(); provider != nil {
			o.setState(StateAwaitingAuth)
			auth, err := provider.Obtain(o.ctx)
			if o.ctx.Err() != nil {
				o.finish(resterr.Cancelled[T]())
				return
			}
			if err != nil {
				o.finish(resterr.Failure[T](err))
				return
			}
			o.spec.RequestHandler.ApplyAuthorization(req, auth)
		}

		o.setState(StateAwaitingTransport)
		resp, terr := o.engine.transport.Do(o.ctx, req)
		if terr != nil {
			if done, outcome := o.handleTransportError(endpoint, terr); done {
				o.finish(outcome)
				return
			}
			continue
		}

		value, herr := o.spec.ResponseHandler.Handle(resp.Status, resp.Header, resp.Body)
		if herr != nil {
			o.finish(resterr.Failure[T](herr))
			return
		}
		o.finish(resterr.OK[T](value))
		return
	}
}

// handleTransportError applies the retry decision. It returns (true,
// outcome) when the operation is finished (cancelled or retries exhausted),
// or (false, _) when the caller should loop back into attemptLoop for
// another attempt.
func (o *operation[T]) handleTransportError(endpoint addresscache.Endpoint, terr error) (bool, resterr.Outcome[T]) {
	if te, ok := terr.(resterr.TransportError); ok {
		if te.Cancelled() {
			return true, resterr.Cancelled[T]()
		}
		if !te.TransientLocal() {
			o.engine.cache.RotateAfterFailure(endpoint)
			o.engine.metrics.EndpointRotations.Add(1)
			o.engine.logger.Warn(o.correlationID, "rotating endpoint after transport failure", terr,
				restlog.F("name", o.spec.Name), restlog.F("endpoint", endpoint.String()))
		}
	} else {
		// Unclassified transport error: treat as a generic failure and
		// rotate, since we have no signal that the same endpoint is safe
		// to retry.
		o.engine.cache.RotateAfterFailure(endpoint)
		o.engine.metrics.EndpointRotations.Add(1)
		o.engine.logger.Warn(o.correlationID, "rotating endpoint after unclassified transport error", terr,
			restlog.F("name", o.spec.Name), restlog.F("endpoint", endpoint.String()))
	}

	if o.ctx.Err() != nil {
		return true, resterr.Cancelled[T]()
	}

	if o.attemptsUsed >= o.spec.Strategy.MaxAttempts {
		return true, resterr.Failure[T](resterr.Network(terr))
	}
	o.attemptsUsed++
	o.engine.metrics.OperationsRetried.Add(1)
	o.engine.logger.Info(o.correlationID, "retrying operation", restlog.F("name", o.spec.Name), restlog.F("attempt", o.attemptsUsed))

	if o.spec.Strategy.Delay.IsNever() {
		o.setState(StateRunning)
		return false, resterr.Outcome[T]{}
	}

	o.setState(StateBackingOff)
	timer := time.NewTimer(o.spec.Strategy.Delay.Duration())
	defer timer.Stop()

	select {
	case <-timer.C:
		o.setState(StateRunning)
		return false, resterr.Outcome[T]{}
	case <-o.ctx.Done():
		return true, resterr.Cancelled[T]()
	}
}
