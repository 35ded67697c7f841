// Package registry maintains the mapping from path prefixes to registered
// handlers and owns the bounded request/response queue pair of each handler.
//
// The registry is the only structure in the gateway that is mutated by
// multiple independent goroutines outside the governor. All mutations and
// lookups are serialized by a single mutex. Routing scans all registrations,
// so it is O(n) on the hot path; registration counts are expected to stay
// small (tens, not thousands).
package registry

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const DefaultQueueSize = 1000

// Request is the envelope handed from the dispatcher to a handler's request
// queue. It is immutable once created. Header values with multiple
// occurrences are comma-joined per the usual header semantics.
type Request struct {
	ID     string
	Prefix string
	Method string
	Path   string
	Query  string
	Header map[string]string
	Body   []byte
}

// WithPath returns a shallow copy of the request with the path replaced.
// Used by the handler adapters to present the prefix-relative path to the
// handler while the queued envelope keeps the full path.
func (r *Request) WithPath(path string) *Request {
	c := *r
	c.Path = path
	return &c
}

// Response is the envelope produced by a handler. RequestID must equal the
// ID of the originating request, the dispatcher drops responses that fail
// this correlation check.
type Response struct {
	RequestID  string
	StatusCode int
	Header     map[string]string
	Body       []byte
}

// Registration describes one registered handler.
type Registration struct {
	ID     string `json:"handler_id"`
	Prefix string `json:"prefix"`
	Active bool   `json:"active"`
}

type entry struct {
	reg    Registration
	queues *Queues
}

// Options configures a Registry.
type Options struct {

	// RequestQueueSize caps each handler's request queue. Defaults to 1000.
	RequestQueueSize int

	// ResponseQueueSize caps each handler's response queue. Defaults to 1000.
	ResponseQueueSize int
}

// Registry holds the active registrations in registration order.
type Registry struct {
	mu      sync.Mutex
	options Options
	entries []*entry
}

// New creates an empty registry.
func New(o Options) *Registry {
	if o.RequestQueueSize <= 0 {
		o.RequestQueueSize = DefaultQueueSize
	}

	if o.ResponseQueueSize <= 0 {
		o.ResponseQueueSize = DefaultQueueSize
	}

	return &Registry{options: o}
}

// NormalizePrefix brings a prefix to canonical form: a leading slash is
// ensured, a trailing slash is stripped, and both "" and "/" normalize to
// the empty prefix, which matches every path.
func NormalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}

	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	for len(prefix) > 1 && strings.HasSuffix(prefix, "/") {
		prefix = prefix[:len(prefix)-1]
	}

	if prefix == "/" {
		return ""
	}

	return prefix
}

// Register adds a registration for the normalized prefix and creates the
// handler's queue pair. It returns false without mutating anything when the
// prefix is already taken. New registrations start inactive.
func (r *Registry) Register(id, prefix string) bool {
	prefix = NormalizePrefix(prefix)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.reg.Prefix == prefix {
			log.Warnf("prefix %q is already registered", prefix)
			return false
		}
	}

	r.entries = append(r.entries, &entry{
		reg:    Registration{ID: id, Prefix: prefix},
		queues: newQueues(r.options.RequestQueueSize, r.options.ResponseQueueSize),
	})

	log.Infof("registered handler %s for prefix %q", id, prefix)
	return true
}

// Unregister removes the registration with the given handler id and discards
// its queues. It returns false when the id is not registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.reg.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			log.Infof("unregistered handler %s", id)
			return true
		}
	}

	return false
}

// Route returns the handler whose prefix is the longest string prefix of
// path. The scan follows registration order, so among candidates of equal
// prefix length the earliest registered wins. (Prefixes are unique, which
// makes such a tie unreachable for distinct prefixes, the rule is stated to
// keep the behavior deterministic regardless.) The empty prefix matches
// every path.
func (r *Registry) Route(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		id    string
		found bool
		best  = -1
	)

	for _, e := range r.entries {
		if strings.HasPrefix(path, e.reg.Prefix) && len(e.reg.Prefix) > best {
			best = len(e.reg.Prefix)
			id = e.reg.ID
			found = true
		}
	}

	return id, found
}

// SetActive toggles the active flag of a registration. The flag is reported
// by the health and listing endpoints and has no effect on routing or
// queueing.
func (r *Registry) SetActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.reg.ID == id {
			e.reg.Active = active
			return
		}
	}
}

// Queues returns the queue pair of a registered handler.
func (r *Registry) Queues(id string) (*Queues, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.reg.ID == id {
			return e.queues, true
		}
	}

	return nil, false
}

// Registrations returns a snapshot of the current registrations in
// registration order.
func (r *Registry) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := make([]Registration, len(r.entries))
	for i, e := range r.entries {
		regs[i] = e.reg
	}

	return regs
}
