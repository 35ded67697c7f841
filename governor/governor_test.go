package governor

import (
	"errors"
	"testing"
	"time"

	"github.com/portmux/portmux/circuit"
	"github.com/portmux/portmux/monitor"
	"github.com/portmux/portmux/ratelimit"
)

func TestAdmit(t *testing.T) {
	t.Run("no policies admit everything", func(t *testing.T) {
		g := New(Options{})
		for range 100 {
			done, err := g.Admit("a")
			if err != nil {
				t.Fatal(err)
			}

			done(200, time.Millisecond)
		}
	})

	t.Run("connection limit fails fast at capacity", func(t *testing.T) {
		g := New(Options{MaxConnections: 2})

		done1, err := g.Admit("a")
		if err != nil {
			t.Fatal(err)
		}

		done2, err := g.Admit("a")
		if err != nil {
			t.Fatal(err)
		}

		if _, err := g.Admit("a"); !errors.Is(err, ErrConnectionLimit) {
			t.Errorf("got %v, expected ErrConnectionLimit", err)
		}

		// completion releases the slot
		done1(200, time.Millisecond)
		done3, err := g.Admit("a")
		if err != nil {
			t.Fatal(err)
		}

		done2(200, time.Millisecond)
		done3(200, time.Millisecond)
	})

	t.Run("rate limit refusal", func(t *testing.T) {
		l := ratelimit.New(ratelimit.Settings{MaxHits: 2, MaxHitsPerHandler: 2, TimeWindow: time.Second})
		defer l.Close()

		g := New(Options{Limiter: l})

		for range 2 {
			done, err := g.Admit("a")
			if err != nil {
				t.Fatal(err)
			}

			done(200, time.Millisecond)
		}

		if _, err := g.Admit("a"); !errors.Is(err, ErrRateLimited) {
			t.Errorf("got %v, expected ErrRateLimited", err)
		}
	})

	t.Run("breaker refusal after recorded failures", func(t *testing.T) {
		g := New(Options{
			Breakers: circuit.NewRegistry(circuit.Settings{Failures: 3, RecoveryTimeout: time.Minute}),
		})

		for range 3 {
			done, err := g.Admit("a")
			if err != nil {
				t.Fatal(err)
			}

			done(500, time.Millisecond)
		}

		if _, err := g.Admit("a"); !errors.Is(err, ErrBreakerOpen) {
			t.Errorf("got %v, expected ErrBreakerOpen", err)
		}

		// breakers are per handler
		if _, err := g.Admit("b"); err != nil {
			t.Errorf("breaker of another handler tripped: %v", err)
		}
	})

	t.Run("statuses below 400 are breaker successes", func(t *testing.T) {
		g := New(Options{
			Breakers: circuit.NewRegistry(circuit.Settings{Failures: 2, RecoveryTimeout: time.Minute}),
		})

		for _, status := range []int{500, 302, 503} {
			done, err := g.Admit("a")
			if err != nil {
				t.Fatal(err)
			}

			done(status, time.Millisecond)
		}

		if _, err := g.Admit("a"); err != nil {
			t.Errorf("breaker tripped despite interleaved success: %v", err)
		}
	})

	t.Run("refusal releases the connection slot", func(t *testing.T) {
		l := ratelimit.New(ratelimit.Settings{MaxHits: 1, MaxHitsPerHandler: 1, TimeWindow: time.Hour})
		defer l.Close()

		g := New(Options{Limiter: l, MaxConnections: 1})

		done, err := g.Admit("a")
		if err != nil {
			t.Fatal(err)
		}

		done(200, time.Millisecond)

		// rate limited now, but the slot must be free again afterwards
		if _, err := g.Admit("a"); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("got %v, expected ErrRateLimited", err)
		}

		if !g.conns.TryAcquire(1) {
			t.Error("connection slot leaked on refusal")
		}
	})
}

func TestRecord(t *testing.T) {
	m := monitor.New(10)
	g := New(Options{Monitor: m})

	done, err := g.Admit("a")
	if err != nil {
		t.Fatal(err)
	}

	done(200, 100*time.Millisecond)
	g.Record("a", 50*time.Millisecond, 429)

	s, ok := m.Stats("a")
	if !ok {
		t.Fatal("no stats recorded")
	}

	if s.TotalRequests != 2 || s.ErrorRate != 50 {
		t.Errorf("unexpected stats: %+v", s)
	}
}
