// Package dispatch implements the request pipeline of the gateway: resolve
// a handler by path prefix, pass the admission chain, hand the request
// across the handler's bounded queue pair, and correlate the response back
// to the caller.
//
// Splitting admission from queueing lets cheap rejections short-circuit
// before any queue or goroutine resource is touched. The correlation check
// is mandatory because concurrent dispatch calls for the same handler share
// one queue pair: FIFO order guarantees that some caller gets each
// response, not that the popped response belongs to this call. The check
// relies on the handler's adapter consuming requests and producing
// responses one at a time in queue order.
package dispatch

import (
	"strconv"
	"time"

	"github.com/aryszka/jobqueue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/portmux/portmux/governor"
	"github.com/portmux/portmux/metrics"
	"github.com/portmux/portmux/registry"
)

const (
	DefaultEnqueueTimeout  = 5 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultMaxWorkers      = 50
)

// Options configures a Dispatcher.
type Options struct {

	// Registry resolves handlers and owns their queues. Required.
	Registry *registry.Registry

	// Governor runs the admission chain and records outcomes. Required.
	Governor *governor.Governor

	// Metrics receives the operational counters. Optional.
	Metrics *metrics.Metrics

	// EnqueueTimeout bounds the wait for capacity on a handler's request
	// queue. Defaults to 5s.
	EnqueueTimeout time.Duration

	// ResponseTimeout bounds the wait for the handler's response. Defaults
	// to 30s.
	ResponseTimeout time.Duration

	// MaxWorkers caps the number of concurrently served dispatch calls.
	// The same number of calls may wait for a free worker, bounded by
	// EnqueueTimeout. Defaults to 50, negative disables the pool.
	MaxWorkers int
}

// Dispatcher routes requests to registered handlers and returns their
// correlated responses. Every failure is converted to a well-formed
// response at the boundary where it is detected, Dispatch never fails.
type Dispatcher struct {
	registry        *registry.Registry
	governor        *governor.Governor
	metrics         *metrics.Metrics
	enqueueTimeout  time.Duration
	responseTimeout time.Duration
	pool            *jobqueue.Stack
}

// New creates a dispatcher.
func New(o Options) *Dispatcher {
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = DefaultEnqueueTimeout
	}

	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}

	if o.MaxWorkers == 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}

	d := &Dispatcher{
		registry:        o.Registry,
		governor:        o.Governor,
		metrics:         o.Metrics,
		enqueueTimeout:  o.EnqueueTimeout,
		responseTimeout: o.ResponseTimeout,
	}

	if o.MaxWorkers > 0 {
		d.pool = jobqueue.With(jobqueue.Options{
			MaxConcurrency: o.MaxWorkers,
			MaxStackSize:   o.MaxWorkers,
			Timeout:        o.EnqueueTimeout,
		})
	}

	return d
}

// Close releases the dispatch worker pool. Dispatch calls after Close are
// rejected as overloaded.
func (d *Dispatcher) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// Dispatch routes the request to its handler and blocks for the correlated
// response. Synthetic responses: 404 when no prefix matches (not recorded),
// 429 when rate limited, 503 when overloaded (breaker open, connection
// limit, worker pool or request queue full), 504 when the handler's
// response did not arrive in time, 500 on a correlation violation.
func (d *Dispatcher) Dispatch(req *registry.Request) *registry.Response {
	start := time.Now()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	handler, ok := d.registry.Route(req.Path)
	if !ok {
		d.metrics.ObserveDispatch("", 404, time.Since(start))
		return synthetic(req, 404, "no handler registered for path")
	}

	if d.pool != nil {
		free, err := d.pool.Wait()
		if err != nil {
			return d.reject(req, handler, start, poolStatus(err), "worker_pool", "dispatch workers exhausted")
		}

		defer free()
	}

	finish, err := d.governor.Admit(handler)
	if err != nil {
		return d.refuse(req, handler, start, err)
	}

	queues, ok := d.registry.Queues(handler)
	if !ok {
		// unregistered between route and admission
		resp := synthetic(req, 503, "handler unavailable")
		d.finish(finish, handler, start, resp.StatusCode)
		return resp
	}

	if err := queues.OfferRequest(req, d.enqueueTimeout); err != nil {
		log.Errorf("request queue of handler %s is full", handler)
		d.metrics.IncRejection("queue_full")
		resp := synthetic(req, 503, "handler queue full")
		d.finish(finish, handler, start, resp.StatusCode)
		return resp
	}

	resp, err := queues.PollResponse(d.responseTimeout)
	if err != nil {
		log.Errorf("timed out waiting for the response of handler %s", handler)
		d.metrics.IncRejection("response_timeout")
		resp := synthetic(req, 504, "handler response timeout")
		d.finish(finish, handler, start, resp.StatusCode)
		return resp
	}

	if resp.RequestID != req.ID {
		// protocol violation, the orphaned response is dropped and must not
		// reach any other caller
		log.Errorf(
			"response correlation mismatch for handler %s: expected %s, got %s",
			handler,
			req.ID,
			resp.RequestID,
		)

		d.metrics.IncRejection("correlation_mismatch")
		resp := synthetic(req, 500, "internal error")
		d.finish(finish, handler, start, resp.StatusCode)
		return resp
	}

	d.finish(finish, handler, start, resp.StatusCode)
	return resp
}

func (d *Dispatcher) finish(done governor.DoneFunc, handler string, start time.Time, statusCode int) {
	elapsed := time.Since(start)
	done(statusCode, elapsed)
	d.metrics.ObserveDispatch(handler, statusCode, elapsed)
}

// refuse maps an admission error to its synthetic response and records the
// refusal in the monitor.
func (d *Dispatcher) refuse(req *registry.Request, handler string, start time.Time, err error) *registry.Response {
	switch err {
	case governor.ErrRateLimited:
		resp := d.reject(req, handler, start, 429, "ratelimit", "rate limited")
		if retryAfter := d.governor.RetryAfter(handler); retryAfter > 0 {
			resp.Header["Retry-After"] = strconv.Itoa(retryAfter)
		}

		return resp
	case governor.ErrBreakerOpen:
		return d.reject(req, handler, start, 503, "breaker", "handler unavailable")
	case governor.ErrConnectionLimit:
		return d.reject(req, handler, start, 503, "connections", "too many connections")
	default:
		return d.reject(req, handler, start, 503, "admission", "service unavailable")
	}
}

func (d *Dispatcher) reject(req *registry.Request, handler string, start time.Time, statusCode int, reason, body string) *registry.Response {
	elapsed := time.Since(start)
	d.governor.Record(handler, elapsed, statusCode)
	d.metrics.IncRejection(reason)
	d.metrics.ObserveDispatch(handler, statusCode, elapsed)
	return synthetic(req, statusCode, body)
}

func poolStatus(err error) int {
	if err == jobqueue.ErrTimeout {
		return 502
	}

	return 503
}

func synthetic(req *registry.Request, statusCode int, body string) *registry.Response {
	return &registry.Response{
		RequestID:  req.ID,
		StatusCode: statusCode,
		Header:     map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       []byte(body),
	}
}

