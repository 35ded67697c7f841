package registry

import (
	"testing"
	"time"
)

func TestNormalizePrefix(t *testing.T) {
	for _, test := range []struct {
		prefix string
		expect string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"/api//", "/api"},
		{"api/v1", "/api/v1"},
	} {
		t.Run(test.prefix, func(t *testing.T) {
			if got := NormalizePrefix(test.prefix); got != test.expect {
				t.Errorf("normalize %q: got %q, expected %q", test.prefix, got, test.expect)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	t.Run("creates queues and starts inactive", func(t *testing.T) {
		r := New(Options{})
		if !r.Register("a", "/api") {
			t.Fatal("registration failed")
		}

		if _, ok := r.Queues("a"); !ok {
			t.Error("queues not created")
		}

		regs := r.Registrations()
		if len(regs) != 1 || regs[0].Active {
			t.Errorf("unexpected registrations: %v", regs)
		}
	})

	t.Run("duplicate prefix fails without mutation", func(t *testing.T) {
		r := New(Options{})
		if !r.Register("a", "/api") {
			t.Fatal("registration failed")
		}

		if r.Register("b", "api/") {
			t.Error("registration of a duplicate prefix succeeded")
		}

		if _, ok := r.Queues("b"); ok {
			t.Error("queues created for the rejected registration")
		}

		if id, _ := r.Route("/api/x"); id != "a" {
			t.Error("existing registration was not left untouched")
		}
	})

	t.Run("unregister discards the entry", func(t *testing.T) {
		r := New(Options{})
		r.Register("a", "/api")
		if !r.Unregister("a") {
			t.Fatal("unregister failed")
		}

		if r.Unregister("a") {
			t.Error("unregister of an unknown id succeeded")
		}

		if _, ok := r.Queues("a"); ok {
			t.Error("queues survived unregistration")
		}
	})
}

func TestRoute(t *testing.T) {
	r := New(Options{})
	r.Register("root", "")
	r.Register("api", "/api")
	r.Register("apiv1", "/api/v1")

	for _, test := range []struct {
		path   string
		expect string
		found  bool
	}{
		{"/api/v1/users", "apiv1", true},
		{"/api/v2/users", "api", true},
		{"/other", "root", true},
		{"", "root", true},
	} {
		t.Run(test.path, func(t *testing.T) {
			id, ok := r.Route(test.path)
			if ok != test.found || id != test.expect {
				t.Errorf("route %q: got %q/%v, expected %q/%v", test.path, id, ok, test.expect, test.found)
			}
		})
	}

	t.Run("no match without catch-all", func(t *testing.T) {
		r := New(Options{})
		r.Register("api", "/api")
		if _, ok := r.Route("/other"); ok {
			t.Error("unexpected match")
		}
	})
}

func TestSetActive(t *testing.T) {
	r := New(Options{})
	r.Register("a", "/api")
	r.SetActive("a", true)

	if regs := r.Registrations(); !regs[0].Active {
		t.Error("registration not marked active")
	}

	r.SetActive("a", false)
	if regs := r.Registrations(); regs[0].Active {
		t.Error("registration not marked inactive")
	}
}

func TestQueues(t *testing.T) {
	const timeout = 10 * time.Millisecond

	t.Run("request round trip in FIFO order", func(t *testing.T) {
		q := newQueues(2, 2)
		if err := q.OfferRequest(&Request{ID: "1"}, timeout); err != nil {
			t.Fatal(err)
		}

		if err := q.OfferRequest(&Request{ID: "2"}, timeout); err != nil {
			t.Fatal(err)
		}

		for _, expect := range []string{"1", "2"} {
			r, err := q.PollRequest(timeout)
			if err != nil {
				t.Fatal(err)
			}

			if r.ID != expect {
				t.Errorf("got request %s, expected %s", r.ID, expect)
			}
		}
	})

	t.Run("offer fails fast when full", func(t *testing.T) {
		q := newQueues(1, 1)
		if err := q.OfferRequest(&Request{ID: "1"}, timeout); err != nil {
			t.Fatal(err)
		}

		start := time.Now()
		if err := q.OfferRequest(&Request{ID: "2"}, timeout); err != ErrQueueFull {
			t.Errorf("got %v, expected ErrQueueFull", err)
		}

		if time.Since(start) > 10*timeout {
			t.Error("offer blocked past the configured timeout")
		}
	})

	t.Run("poll times out on empty queue", func(t *testing.T) {
		q := newQueues(1, 1)
		if _, err := q.PollResponse(timeout); err != ErrTimeout {
			t.Errorf("got %v, expected ErrTimeout", err)
		}
	})

	t.Run("response round trip", func(t *testing.T) {
		q := newQueues(1, 1)
		if err := q.OfferResponse(&Response{RequestID: "1", StatusCode: 200}, timeout); err != nil {
			t.Fatal(err)
		}

		r, err := q.PollResponse(timeout)
		if err != nil {
			t.Fatal(err)
		}

		if r.RequestID != "1" || r.StatusCode != 200 {
			t.Errorf("unexpected response: %+v", r)
		}
	})
}
