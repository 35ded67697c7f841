// Package gateway is the front door of the shared endpoint. It serves the
// operational endpoints under /_gateway/ and routes every other request
// through the dispatcher. It also owns the lifecycle of the handler
// adapters reachable through it.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/portmux/portmux/adapter"
	"github.com/portmux/portmux/dispatch"
	"github.com/portmux/portmux/metrics"
	"github.com/portmux/portmux/monitor"
	"github.com/portmux/portmux/registry"
)

// OperationalPrefix guards the endpoints served by the gateway itself.
// Paths below it are never dispatched to handlers.
const OperationalPrefix = "/_gateway/"

// ErrUnknownHandler is returned by the lifecycle methods for an id that was
// never registered or was already stopped.
var ErrUnknownHandler = errUnknownHandler{}

type errUnknownHandler struct{}

func (errUnknownHandler) Error() string { return "unknown handler" }

// Options configures a Gateway.
type Options struct {

	// Registry shared with the dispatcher and the adapters. Required.
	Registry *registry.Registry

	// Dispatcher the inbound requests are routed through. Required.
	Dispatcher *dispatch.Dispatcher

	// Monitor backing the stats endpoint. Optional.
	Monitor *monitor.Monitor

	// Metrics backing the Prometheus endpoint. Optional.
	Metrics *metrics.Metrics

	// AccessLogDisabled mutes the per-request log line of dispatched
	// requests.
	AccessLogDisabled bool

	// PollTimeout, ResponseTimeout and StopTimeout are handed to the
	// adapters created by RegisterHandler. Zero values select the adapter
	// defaults.
	PollTimeout     time.Duration
	ResponseTimeout time.Duration
	StopTimeout     time.Duration
}

// Gateway implements http.Handler.
type Gateway struct {
	options Options

	mu       sync.Mutex
	adapters map[string]*adapter.Adapter
}

// New creates a gateway.
func New(o Options) *Gateway {
	return &Gateway{
		options:  o,
		adapters: make(map[string]*adapter.Adapter),
	}
}

// RegisterHandler creates an adapter for the handler and returns its id.
// The handler is registered with the registry and starts polling only when
// StartHandler is called.
func (g *Gateway) RegisterHandler(prefix string, h adapter.Handler) string {
	a := adapter.New(adapter.Options{
		Registry:        g.options.Registry,
		ID:              uuid.NewString(),
		Prefix:          prefix,
		Handler:         h,
		PollTimeout:     g.options.PollTimeout,
		ResponseTimeout: g.options.ResponseTimeout,
		StopTimeout:     g.options.StopTimeout,
	})

	g.mu.Lock()
	g.adapters[a.ID()] = a
	g.mu.Unlock()

	log.Infof("handler %s prepared for prefix %q", a.ID(), a.Prefix())
	return a.ID()
}

// StartHandler begins the poll loop of a registered handler. The only
// fatal startup condition, a taken prefix, is returned to the caller.
func (g *Gateway) StartHandler(id string) error {
	g.mu.Lock()
	a, ok := g.adapters[id]
	g.mu.Unlock()

	if !ok {
		return ErrUnknownHandler
	}

	return a.Start()
}

// StopHandler stops a handler's poll loop and unregisters it. Stopped
// handlers cannot be restarted, register a new one instead.
func (g *Gateway) StopHandler(id string) error {
	g.mu.Lock()
	a, ok := g.adapters[id]
	delete(g.adapters, id)
	g.mu.Unlock()

	if !ok {
		return ErrUnknownHandler
	}

	a.Stop()
	return nil
}

// Handlers returns the current registrations.
func (g *Gateway) Handlers() []registry.Registration {
	return g.options.Registry.Registrations()
}

// Close stops all handlers.
func (g *Gateway) Close() {
	g.mu.Lock()
	adapters := make([]*adapter.Adapter, 0, len(g.adapters))
	for _, a := range g.adapters {
		adapters = append(adapters, a)
	}

	g.adapters = make(map[string]*adapter.Adapter)
	g.mu.Unlock()

	for _, a := range adapters {
		a.Stop()
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, OperationalPrefix) {
		g.serveOperational(w, r)
		return
	}

	start := time.Now()
	resp := g.options.Dispatcher.Dispatch(newRequest(r))
	for name, value := range resp.Header {
		w.Header().Set(name, value)
	}

	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)

	if !g.options.AccessLogDisabled {
		log.Infof("%s %s %d %v", r.Method, r.URL.Path, resp.StatusCode, time.Since(start))
	}
}

func (g *Gateway) serveOperational(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, OperationalPrefix) {
	case "health":
		g.serveHealth(w)
	case "handlers":
		writeJSON(w, g.Handlers())
	case "stats":
		g.serveStats(w, r)
	case "metrics":
		if g.options.Metrics == nil {
			http.NotFound(w, r)
			return
		}

		g.options.Metrics.Handler().ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

type healthStatus struct {
	Status          string `json:"status"`
	RegisteredCount int    `json:"registered_count"`
	ActiveCount     int    `json:"active_count"`
}

func (g *Gateway) serveHealth(w http.ResponseWriter) {
	regs := g.Handlers()

	active := 0
	for _, reg := range regs {
		if reg.Active {
			active++
		}
	}

	writeJSON(w, healthStatus{
		Status:          "healthy",
		RegisteredCount: len(regs),
		ActiveCount:     active,
	})
}

func (g *Gateway) serveStats(w http.ResponseWriter, r *http.Request) {
	if g.options.Monitor == nil {
		writeJSON(w, map[string]string{"message": "monitoring disabled"})
		return
	}

	handler := r.URL.Query().Get("handler_id")
	stats, ok := g.options.Monitor.Stats(handler)
	if !ok {
		writeJSON(w, map[string]string{"message": "no data"})
		return
	}

	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

// newRequest converts an inbound HTTP request to the dispatch envelope.
// Repeated header values are comma-joined.
func newRequest(r *http.Request) *registry.Request {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Errorf("failed to read request body: %v", err)
	}

	header := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		header[name] = strings.Join(values, ", ")
	}

	return &registry.Request{
		ID:     uuid.NewString(),
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: header,
		Body:   body,
	}
}
