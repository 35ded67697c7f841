// Package governor composes the admission policies of the gateway behind a
// single Admit/Record API. Admission is a chain of short-circuit checks in
// a fixed order: connection admission, rate limiter, circuit breaker. The
// first negative check wins and is reported as a typed error. Each policy
// is individually optional, a missing policy admits everything.
package governor

import (
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/portmux/portmux/circuit"
	"github.com/portmux/portmux/monitor"
	"github.com/portmux/portmux/ratelimit"
)

const DefaultMaxConnections = 100

var (
	// ErrConnectionLimit is returned by Admit when all connection slots are
	// taken.
	ErrConnectionLimit = errors.New("connection limit reached")

	// ErrRateLimited is returned by Admit when the request exceeds a rate
	// window.
	ErrRateLimited = errors.New("rate limited")

	// ErrBreakerOpen is returned by Admit when the handler's circuit
	// breaker is open.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// DoneFunc completes an admitted request: it records the outcome in the
// monitor, reports success or failure to the circuit breaker, and releases
// the connection slot. It must be called exactly once per admission.
type DoneFunc func(statusCode int, elapsed time.Duration)

// Options configures a Governor. A nil Limiter, Breakers or Monitor
// disables the corresponding policy, a non-positive MaxConnections disables
// connection admission.
type Options struct {
	Limiter        *ratelimit.Limiter
	Breakers       *circuit.Registry
	Monitor        *monitor.Monitor
	MaxConnections int
}

// Governor decides whether a request may enter the dispatch pipeline and
// records the outcomes of completed requests.
type Governor struct {
	limiter  *ratelimit.Limiter
	breakers *circuit.Registry
	monitor  *monitor.Monitor
	conns    *semaphore.Weighted
}

// New creates a governor from the provided policies.
func New(o Options) *Governor {
	g := &Governor{
		limiter:  o.Limiter,
		breakers: o.Breakers,
		monitor:  o.Monitor,
	}

	if o.MaxConnections > 0 {
		g.conns = semaphore.NewWeighted(int64(o.MaxConnections))
	}

	return g
}

// Admit runs the admission chain for a handler. On admission it returns the
// completion callback. On refusal it returns one of ErrConnectionLimit,
// ErrRateLimited or ErrBreakerOpen, and no resource stays acquired.
func (g *Governor) Admit(handler string) (DoneFunc, error) {
	release := func() {}
	if g.conns != nil {
		if !g.conns.TryAcquire(1) {
			return nil, ErrConnectionLimit
		}

		release = func() { g.conns.Release(1) }
	}

	if !g.limiter.Allow(handler) {
		release()
		return nil, ErrRateLimited
	}

	breakerDone, ok := g.breakers.Get(handler).Allow()
	if !ok {
		release()
		return nil, ErrBreakerOpen
	}

	return func(statusCode int, elapsed time.Duration) {
		breakerDone(statusCode < 400)
		g.Record(handler, elapsed, statusCode)
		release()
	}, nil
}

// Record feeds one outcome to the monitor. It is the monitor-only path used
// for refused and synthetic outcomes that never reached the handler, the
// breaker accounting of admitted calls happens through the DoneFunc.
func (g *Governor) Record(handler string, elapsed time.Duration, statusCode int) {
	if g.monitor != nil {
		g.monitor.Record(handler, elapsed, statusCode)
	}
}

// RetryAfter returns the number of seconds a rate-limited caller should
// wait before retrying.
func (g *Governor) RetryAfter(handler string) int {
	return g.limiter.RetryAfter(handler)
}
