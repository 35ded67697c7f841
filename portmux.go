package portmux

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/portmux/portmux/adapter"
	"github.com/portmux/portmux/circuit"
	"github.com/portmux/portmux/config"
	"github.com/portmux/portmux/dispatch"
	"github.com/portmux/portmux/gateway"
	"github.com/portmux/portmux/governor"
	"github.com/portmux/portmux/logging"
	"github.com/portmux/portmux/metrics"
	"github.com/portmux/portmux/monitor"
	"github.com/portmux/portmux/ratelimit"
	"github.com/portmux/portmux/registry"
)

// Status is a point-in-time summary of the server.
type Status struct {
	Address         string                  `json:"address"`
	Handlers        []registry.Registration `json:"handlers"`
	TotalRequests   int                     `json:"total_requests"`
	TotalErrors     int                     `json:"total_errors"`
	BreakerStates   map[string]string       `json:"breaker_states,omitempty"`
}

// Server bundles the gateway with its policies, built from one Config.
type Server struct {
	config     config.Config
	limiter    *ratelimit.Limiter
	breakers   *circuit.Registry
	monitor    *monitor.Monitor
	metrics    *metrics.Metrics
	dispatcher *dispatch.Dispatcher
	gateway    *gateway.Gateway
	httpServer *http.Server
}

// New assembles a server from the config. The returned server owns all the
// components and releases them in Shutdown.
func New(c config.Config) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logging.Init(logging.Options{
		ApplicationLogLevel:       c.LogLevel,
		ApplicationLogJSONEnabled: c.LogJSON,
	})

	s := &Server{config: c}

	reg := registry.New(registry.Options{
		RequestQueueSize:  c.RequestQueueSize,
		ResponseQueueSize: c.ResponseQueueSize,
	})

	if c.EnableThrottling {
		s.limiter = ratelimit.New(ratelimit.Settings{
			MaxHits:           c.MaxRequestsPerSecond,
			MaxHitsPerHandler: c.MaxRequestsPerHandler,
		})
	}

	if c.EnableBreaker {
		s.breakers = circuit.NewRegistry(circuit.Settings{
			Failures:        c.BreakerFailureThreshold,
			RecoveryTimeout: c.BreakerRecoveryTimeout.D(),
		})
	}

	if c.EnableMonitoring {
		s.monitor = monitor.New(c.MonitorWindowSize)
		s.metrics = metrics.New()
	}

	maxConnections := 0
	if c.EnableConnectionLimit {
		maxConnections = c.MaxConnections
	}

	gov := governor.New(governor.Options{
		Limiter:        s.limiter,
		Breakers:       s.breakers,
		Monitor:        s.monitor,
		MaxConnections: maxConnections,
	})

	s.dispatcher = dispatch.New(dispatch.Options{
		Registry:        reg,
		Governor:        gov,
		Metrics:         s.metrics,
		EnqueueTimeout:  c.EnqueueTimeout.D(),
		ResponseTimeout: c.ResponseTimeout.D(),
		MaxWorkers:      c.MaxWorkers,
	})

	s.gateway = gateway.New(gateway.Options{
		Registry:          reg,
		Dispatcher:        s.dispatcher,
		Monitor:           s.monitor,
		Metrics:           s.metrics,
		AccessLogDisabled: c.AccessLogDisabled,
		PollTimeout:       c.PollTimeout.D(),
	})

	return s, nil
}

// Gateway exposes the gateway for registering handlers and for serving it
// behind a custom listener or mux.
func (s *Server) Gateway() *gateway.Gateway { return s.gateway }

// RegisterHandler registers a handler under the prefix and starts it.
func (s *Server) RegisterHandler(prefix string, h adapter.Handler) (string, error) {
	id := s.gateway.RegisterHandler(prefix, h)
	if err := s.gateway.StartHandler(id); err != nil {
		return "", err
	}

	return id, nil
}

// ListenAndServe runs the gateway on the configured address and blocks
// until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:    s.config.Address,
		Handler: s.gateway,
	}

	log.Infof("gateway listening on %s", s.config.Address)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}

	return err
}

// Status reports the current registrations, the running totals and the
// breaker states.
func (s *Server) Status() Status {
	st := Status{
		Address:  s.config.Address,
		Handlers: s.gateway.Handlers(),
	}

	if s.monitor != nil {
		st.TotalRequests, st.TotalErrors = s.monitor.Counts("")
	}

	if s.breakers != nil {
		st.BreakerStates = make(map[string]string)
		for _, reg := range st.Handlers {
			if b := s.breakers.Get(reg.ID); b != nil {
				st.BreakerStates[reg.ID] = b.State()
			}
		}
	}

	return st
}

// Shutdown stops the handlers, drains the HTTP server and releases the
// policies. The context bounds the drain.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.gateway.Close()
	s.dispatcher.Close()
	if s.limiter != nil {
		s.limiter.Close()
	}

	log.Info("gateway stopped")
	return err
}

// Run builds a server from the config and serves it until the context is
// canceled.
func Run(ctx context.Context, c config.Config) error {
	s, err := New(c)
	if err != nil {
		return err
	}

	errs := make(chan error, 1)
	go func() {
		errs <- s.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}
