// Package adapter connects a handler implementation to the gateway. Each
// registered handler gets one Adapter owning a dedicated poll goroutine
// that consumes the handler's request queue, invokes the handler, and
// produces exactly one response per request. The handler's own startup code
// calls Serve and Stop directly, nothing is rewritten at runtime.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/portmux/portmux/registry"
)

const (
	DefaultPollTimeout     = time.Second
	DefaultResponseTimeout = 5 * time.Second
	DefaultStopTimeout     = 5 * time.Second
)

var (
	// ErrPrefixTaken is returned by Start when the adapter's prefix is
	// already registered.
	ErrPrefixTaken = errors.New("prefix already registered")

	// ErrAlreadyStarted is returned by Start on a running adapter.
	ErrAlreadyStarted = errors.New("adapter already started")

	// ErrStopped is returned by Start on a stopped adapter. There is no
	// restart, create a new adapter to re-register.
	ErrStopped = errors.New("adapter stopped")
)

// Handler is a request/response-producing unit reachable through the
// gateway. Handle receives the prefix-relative path in the request. A
// returned error or a panic is converted by the adapter into a 500
// response carrying the error text.
type Handler interface {
	Handle(ctx context.Context, req *registry.Request) (*registry.Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *registry.Request) (*registry.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req *registry.Request) (*registry.Response, error) {
	return f(ctx, req)
}

// Options configures an Adapter.
type Options struct {

	// Registry the adapter registers with. Required.
	Registry *registry.Registry

	// ID identifies the handler. Generated when empty.
	ID string

	// Prefix is the path prefix the handler is registered under.
	Prefix string

	// Handler is the unit invoked for each request. Required.
	Handler Handler

	// PollTimeout bounds each wait on the request queue, allowing periodic
	// checks of the running flag for cooperative shutdown. Defaults to 1s.
	PollTimeout time.Duration

	// ResponseTimeout bounds the wait for capacity on the response queue.
	// When it expires, the response is logged and dropped. Defaults to 5s.
	ResponseTimeout time.Duration

	// StopTimeout bounds how long Stop waits for the poll loop to finish.
	// Defaults to 5s.
	StopTimeout time.Duration
}

// Adapter runs the poll loop of one registered handler.
//
// Lifecycle: not started, then running and active after Start, then stopped
// and unregistered after Stop or a fatal error. No restart.
type Adapter struct {
	options Options

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	quit    chan struct{}
	done    chan struct{}
}

// New creates an adapter for a handler.
func New(o Options) *Adapter {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}

	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}

	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}

	o.Prefix = registry.NormalizePrefix(o.Prefix)
	return &Adapter{options: o}
}

// ID returns the handler id.
func (a *Adapter) ID() string { return a.options.ID }

// Prefix returns the normalized prefix.
func (a *Adapter) Prefix() string { return a.options.Prefix }

// Start registers the handler, marks it active and launches the poll loop.
// A taken prefix is the startup error.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}

	if a.started {
		return ErrAlreadyStarted
	}

	if !a.options.Registry.Register(a.options.ID, a.options.Prefix) {
		return fmt.Errorf("start handler %s: %w", a.options.ID, ErrPrefixTaken)
	}

	a.options.Registry.SetActive(a.options.ID, true)

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.quit = make(chan struct{})
	a.done = make(chan struct{})
	a.started = true

	go a.pollLoop(ctx)

	log.Infof("handler %s serving prefix %q", a.options.ID, a.options.Prefix)
	return nil
}

// Serve starts the adapter and blocks the calling goroutine until it is
// stopped. It is the entry point a handler's own startup code calls in
// place of running a server.
func (a *Adapter) Serve() error {
	if err := a.Start(); err != nil {
		return err
	}

	<-a.done
	return nil
}

// Stop clears the running flag, joins the poll loop with a bounded wait,
// marks the handler inactive and unregisters it.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.stopped = true
		a.mu.Unlock()
		return
	}

	a.stopped = true
	close(a.quit)
	a.cancel()
	done := a.done
	a.mu.Unlock()

	select {
	case <-done:
	case <-time.After(a.options.StopTimeout):
		log.Warnf("poll loop of handler %s did not stop within %v", a.options.ID, a.options.StopTimeout)
	}

	a.options.Registry.SetActive(a.options.ID, false)
	a.options.Registry.Unregister(a.options.ID)
	log.Infof("handler %s stopped", a.options.ID)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer close(a.done)

	queues, ok := a.options.Registry.Queues(a.options.ID)
	if !ok {
		log.Errorf("no queues for handler %s, leaving the poll loop", a.options.ID)
		return
	}

	for {
		select {
		case <-a.quit:
			return
		default:
		}

		req, err := queues.PollRequest(a.options.PollTimeout)
		if err != nil {
			continue
		}

		resp := a.invoke(ctx, req)
		resp.RequestID = req.ID

		if err := queues.OfferResponse(resp, a.options.ResponseTimeout); err != nil {
			// the waiting dispatch call will time out instead of hanging
			log.Errorf("response queue of handler %s is full, dropping response for request %s", a.options.ID, req.ID)
		}
	}
}

// invoke calls the handler with the prefix-relative path and converts
// errors and panics into 500 responses.
func (a *Adapter) invoke(ctx context.Context, req *registry.Request) (resp *registry.Response) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("handler %s panicked: %v", a.options.ID, p)
			resp = errorResponse(fmt.Sprintf("handler panic: %v", p))
		}
	}()

	r, err := a.options.Handler.Handle(ctx, req.WithPath(relativePath(req.Path, a.options.Prefix)))
	if err != nil {
		log.Errorf("handler %s failed: %v", a.options.ID, err)
		return errorResponse(err.Error())
	}

	if r == nil {
		return errorResponse("handler returned no response")
	}

	return r
}

func relativePath(path, prefix string) string {
	if prefix != "" && strings.HasPrefix(path, prefix) {
		path = path[len(prefix):]
	}

	if path == "" {
		return "/"
	}

	return path
}

func errorResponse(body string) *registry.Response {
	return &registry.Response{
		StatusCode: 500,
		Header:     map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       []byte(body),
	}
}
