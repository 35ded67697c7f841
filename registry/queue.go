package registry

import (
	"errors"
	"time"
)

var (
	// ErrQueueFull is returned when an offer did not succeed within its
	// bounded wait.
	ErrQueueFull = errors.New("queue full")

	// ErrTimeout is returned when a poll did not produce an element within
	// its bounded wait.
	ErrTimeout = errors.New("queue timeout")
)

// Queues is the bounded request/response channel pair of one handler. The
// dispatcher offers requests and polls responses, the handler's adapter does
// the reverse. Requests offered to a single pair are delivered in FIFO
// order. All operations use a bounded wait so no goroutine blocks
// indefinitely.
type Queues struct {
	requests  chan *Request
	responses chan *Response
}

func newQueues(requestSize, responseSize int) *Queues {
	return &Queues{
		requests:  make(chan *Request, requestSize),
		responses: make(chan *Response, responseSize),
	}
}

// OfferRequest enqueues a request, waiting at most timeout for capacity.
func (q *Queues) OfferRequest(r *Request, timeout time.Duration) error {
	select {
	case q.requests <- r:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case q.requests <- r:
		return nil
	case <-t.C:
		return ErrQueueFull
	}
}

// PollRequest dequeues the next request, waiting at most timeout.
func (q *Queues) PollRequest(timeout time.Duration) (*Request, error) {
	select {
	case r := <-q.requests:
		return r, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case r := <-q.requests:
		return r, nil
	case <-t.C:
		return nil, ErrTimeout
	}
}

// OfferResponse enqueues a response, waiting at most timeout for capacity.
func (q *Queues) OfferResponse(r *Response, timeout time.Duration) error {
	select {
	case q.responses <- r:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case q.responses <- r:
		return nil
	case <-t.C:
		return ErrQueueFull
	}
}

// PollResponse dequeues the next response, waiting at most timeout.
func (q *Queues) PollResponse(timeout time.Duration) (*Response, error) {
	select {
	case r := <-q.responses:
		return r, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case r := <-q.responses:
		return r, nil
	case <-t.C:
		return nil, ErrTimeout
	}
}
