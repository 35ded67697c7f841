// Package loadbalancer distributes the requests of one registered prefix
// over a group of handlers. Prefixes are unique in the registry, a group
// makes several handler instances share one registration.
package loadbalancer

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/portmux/portmux/adapter"
	"github.com/portmux/portmux/registry"
)

// ErrEmptyGroup is returned when a group is created without handlers.
var ErrEmptyGroup = errors.New("empty load balancer group")

// Group is a handler that round-robins over its members. It implements
// adapter.Handler and is registered like any single handler.
type Group struct {
	handlers []adapter.Handler
	next     uint64
}

// NewRoundRobin creates a group rotating over the given handlers in order.
func NewRoundRobin(handlers ...adapter.Handler) (*Group, error) {
	if len(handlers) == 0 {
		return nil, ErrEmptyGroup
	}

	return &Group{handlers: handlers}, nil
}

// Handle forwards the request to the next handler in rotation.
func (g *Group) Handle(ctx context.Context, req *registry.Request) (*registry.Response, error) {
	i := atomic.AddUint64(&g.next, 1) - 1
	return g.handlers[i%uint64(len(g.handlers))].Handle(ctx, req)
}

// Size returns the number of handlers in the group.
func (g *Group) Size() int {
	return len(g.handlers)
}
