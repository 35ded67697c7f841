/*
Package portmux implements a shared HTTP endpoint for multiple request
handlers. Handlers register a path prefix and receive the requests matching
it through a bounded queue pair, the gateway correlates each response back
to the waiting caller. Admission control with a connection limit, sliding
window rate limiting and per-handler circuit breakers protects the handlers
from overload.

The simplest way to run it:

	c := config.Default()
	s, err := portmux.New(c)
	if err != nil {
		log.Fatal(err)
	}

	s.RegisterHandler("/api", adapter.HandlerFunc(handle))
	log.Fatal(s.ListenAndServe())

Handlers receive the prefix-relative path and answer with one response per
request. The operational endpoints of the gateway live under /_gateway/ and
report health, registrations, statistics and Prometheus metrics.
*/
package portmux
