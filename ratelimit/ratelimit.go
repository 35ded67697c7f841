// Package ratelimit implements the sliding-window admission check of the
// gateway. Two windows are kept: one global window over all inbound
// requests and one window per handler. A request is admitted only when both
// windows are below their ceiling, and admission appends the current
// timestamp to both. This is a sliding-window counter, not a token bucket:
// bursts exactly at the configured ceiling are allowed, nothing smoother.
package ratelimit

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	circularbuffer "github.com/szuecs/rate-limit-buffer"
)

const (
	DefaultMaxHits           = 100
	DefaultMaxHitsPerHandler = 50
	DefaultTimeWindow        = time.Second
	DefaultCleanInterval     = 60 * time.Second
)

// globalKey selects the single bucket of the global window.
const globalKey = ""

// Settings configures the limiter.
type Settings struct {

	// Disabled turns the limiter into a noop that admits everything.
	Disabled bool `yaml:"disabled"`

	// MaxHits caps the number of requests within TimeWindow over all
	// handlers. Defaults to 100.
	MaxHits int `yaml:"max-hits"`

	// MaxHitsPerHandler caps the number of requests within TimeWindow for a
	// single handler. Defaults to 50.
	MaxHitsPerHandler int `yaml:"max-hits-per-handler"`

	// TimeWindow is the trailing interval the hits are counted in.
	// Defaults to 1s.
	TimeWindow time.Duration `yaml:"time-window"`

	// CleanInterval controls how often idle per-handler windows are
	// recycled. Defaults to 60s.
	CleanInterval time.Duration `yaml:"clean-interval"`
}

func (s Settings) withDefaults() Settings {
	if s.MaxHits <= 0 {
		s.MaxHits = DefaultMaxHits
	}

	if s.MaxHitsPerHandler <= 0 {
		s.MaxHitsPerHandler = DefaultMaxHitsPerHandler
	}

	if s.TimeWindow <= 0 {
		s.TimeWindow = DefaultTimeWindow
	}

	if s.CleanInterval <= 0 {
		s.CleanInterval = DefaultCleanInterval
	}

	return s
}

func (s Settings) String() string {
	if s.Disabled {
		return "disabled"
	}

	return fmt.Sprintf(
		"ratelimit(max-hits=%d,max-hits-per-handler=%d,time-window=%s)",
		s.MaxHits,
		s.MaxHitsPerHandler,
		s.TimeWindow,
	)
}

type implementation interface {
	Allow(string) bool
	RetryAfter(string) int
	Close()
}

type voidLimiter struct{}

func (voidLimiter) Allow(string) bool     { return true }
func (voidLimiter) RetryAfter(string) int { return 0 }
func (voidLimiter) Close()                {}

// Limiter combines the global and the per-handler sliding windows.
type Limiter struct {
	settings   Settings
	global     implementation
	perHandler implementation
}

// New creates a limiter for the provided settings.
func New(s Settings) *Limiter {
	s = s.withDefaults()

	l := &Limiter{settings: s}
	if s.Disabled {
		l.global = voidLimiter{}
		l.perHandler = voidLimiter{}
		return l
	}

	l.global = circularbuffer.NewRateLimiter(s.MaxHits, s.TimeWindow)
	l.perHandler = circularbuffer.NewClientRateLimiter(s.MaxHitsPerHandler, s.TimeWindow, s.CleanInterval)
	return l
}

// Allow reports whether a request for the given handler is admitted by both
// windows, and counts it when it is. The global window is checked first,
// matching the order the ceilings were defined in: a request rejected by the
// per-handler window has already consumed one slot of the global budget.
func (l *Limiter) Allow(handler string) bool {
	if l == nil {
		return true
	}

	if !l.global.Allow(globalKey) {
		log.Warnf("global request rate exceeded, rejecting request for handler %s", handler)
		return false
	}

	if !l.perHandler.Allow(handler) {
		log.Warnf("request rate for handler %s exceeded", handler)
		return false
	}

	return true
}

// RetryAfter returns the number of seconds after which the next request for
// the handler may be admitted. Used to fill the Retry-After header on
// rate-limited responses.
func (l *Limiter) RetryAfter(handler string) int {
	if l == nil {
		return 0
	}

	global := l.global.RetryAfter(globalKey)
	if h := l.perHandler.RetryAfter(handler); h > global {
		return h
	}

	return global
}

// Close stops the cleanup goroutines of the underlying buffers.
func (l *Limiter) Close() {
	if l == nil {
		return
	}

	l.global.Close()
	l.perHandler.Close()
}
