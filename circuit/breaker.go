// Package circuit implements the per-handler circuit breakers of the
// gateway. A breaker moves between the closed, open and half-open states:
// while closed every call passes and consecutive failures are counted;
// reaching the failure threshold opens the breaker and every call is
// rejected without touching the handler; after the recovery timeout the
// next call is allowed through as a half-open probe, and its outcome either
// closes the breaker again or reopens it.
package circuit

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	DefaultFailures         = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultHalfOpenRequests = 1
)

// Settings contains the settings for individual circuit breakers.
type Settings struct {

	// Handler identifies the handler the breaker belongs to.
	Handler string `yaml:"handler"`

	// Disabled turns breakers created from these settings into noops.
	Disabled bool `yaml:"disabled"`

	// Failures is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	Failures int `yaml:"failures"`

	// RecoveryTimeout is how long an open breaker rejects calls before
	// allowing a half-open probe. Defaults to 60s.
	RecoveryTimeout time.Duration `yaml:"recovery-timeout"`

	// HalfOpenRequests is the number of probe calls allowed in the
	// half-open state. Defaults to 1.
	HalfOpenRequests int `yaml:"half-open-requests"`
}

func (s Settings) withDefaults() Settings {
	if s.Failures <= 0 {
		s.Failures = DefaultFailures
	}

	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = DefaultRecoveryTimeout
	}

	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = DefaultHalfOpenRequests
	}

	return s
}

func (s Settings) String() string {
	if s.Disabled {
		return "disabled"
	}

	return fmt.Sprintf(
		"breaker(handler=%s,failures=%d,recovery-timeout=%s,half-open-requests=%d)",
		s.Handler,
		s.Failures,
		s.RecoveryTimeout,
		s.HalfOpenRequests,
	)
}

// Breaker is a single circuit breaker for one handler. Use the Get method
// of the Registry to obtain initialized breakers.
type Breaker struct {
	settings Settings
	gb       *gobreaker.TwoStepCircuitBreaker
}

func newBreaker(s Settings) *Breaker {
	b := &Breaker{settings: s}

	b.gb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        s.Handler,
		MaxRequests: uint32(s.HalfOpenRequests),
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return int(c.ConsecutiveFailures) >= s.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infof("circuit breaker %s went from %s to %s", name, from, to)
		},
	})

	return b
}

// Allow returns true and a callback for reporting the outcome of the call
// when the breaker admits it. The callback expects true when the call
// succeeded. When the breaker is open, Allow returns no callback and false.
func (b *Breaker) Allow() (func(bool), bool) {
	if b == nil {
		return func(bool) {}, true
	}

	done, err := b.gb.Allow()

	// the error can only indicate that the breaker is not closed
	if err != nil {
		return nil, false
	}

	return done, true
}

// State returns the current state of the breaker as reported by the
// underlying implementation.
func (b *Breaker) State() string {
	return b.gb.State().String()
}
