// Package naming maintains the two-way mapping between semantic
// (service, method) names and the short identifiers that appear on the wire.
//
// A server populates its Registry at startup and exports the mapping as a
// Document; an independently built client loads that Document so both sides
// agree on every wire identifier. With the hash strategy both sides can also
// regenerate the same mapping without exchanging anything.
package naming

import (
	"fmt"
	"sync"

	"muxrpc/rpcerror"
)

// Document is the exported mapping: serviceName -> (methodName -> methodId).
// It serializes to JSON and is what a build-time generator hands to a
// runtime peer.
type Document map[string]map[string]string

// Registry holds the bidirectional name mapping. Reads vastly outnumber
// writes after startup, so an RWMutex guards both maps.
type Registry struct {
	mu       sync.RWMutex
	byName   map[nameKey]string
	byID     map[string]nameKey
	strategy Strategy
}

type nameKey struct {
	service string
	method  string
}

// FallbackID is the wire identifier used when a name has no registered
// mapping: the literal "Service.Method" string. It keeps the system usable
// with mapping disabled.
func FallbackID(service, method string) string {
	return service + "." + method
}

// NewRegistry creates a registry using the given generation strategy.
// A nil strategy defaults to the hash strategy with length 6.
func NewRegistry(strategy Strategy) *Registry {
	if strategy == nil {
		strategy = NewHashStrategy(DefaultIDLength)
	}
	return &Registry{
		byName:   make(map[nameKey]string),
		byID:     make(map[string]nameKey),
		strategy: strategy,
	}
}

// Register maps (service, method) to a generated wire identifier and returns
// it. Registering the same pair again returns the existing identifier.
// Generated ids that collide with an existing entry are retried; a strategy
// that keeps producing the same colliding id (deterministic strategies) fails.
func (r *Registry) Register(service, method string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey{service: service, method: method}
	if id, ok := r.byName[key]; ok {
		return id, nil
	}

	// Random ids need post-hoc collision checking; a bounded retry keeps the
	// deterministic strategies from looping forever on a genuine collision.
	for attempt := 0; attempt < 16; attempt++ {
		id := r.strategy.Generate(service, method)
		if _, taken := r.byID[id]; !taken {
			r.byName[key] = id
			r.byID[id] = key
			return id, nil
		}
	}
	return "", fmt.Errorf("register %s.%s: %w", service, method, rpcerror.ErrDuplicateID)
}

// RegisterWithID maps (service, method) to the caller-chosen identifier.
// Fails if the id is already bound to a different pair.
func (r *Registry) RegisterWithID(service, method, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey{service: service, method: method}
	if existing, taken := r.byID[id]; taken && existing != key {
		return fmt.Errorf("register %s.%s as %q: %w", service, method, id, rpcerror.ErrDuplicateID)
	}
	if old, ok := r.byName[key]; ok {
		delete(r.byID, old)
	}
	r.byName[key] = id
	r.byID[id] = key
	return nil
}

// ResolveID returns the wire identifier for (service, method).
func (r *Registry) ResolveID(service, method string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[nameKey{service: service, method: method}]
	return id, ok
}

// ResolveName returns the (service, method) pair bound to a wire identifier.
func (r *Registry) ResolveName(id string) (service, method string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byID[id]
	return key.service, key.method, ok
}

// Export returns a full dump of the mapping.
func (r *Registry) Export() Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := make(Document)
	for key, id := range r.byName {
		methods, ok := doc[key.service]
		if !ok {
			methods = make(map[string]string)
			doc[key.service] = methods
		}
		methods[key.method] = id
	}
	return doc
}

// Load replaces the registry contents with the document. The load is
// all-or-nothing: the full id set is scanned first, and any duplicate id
// rejects the whole document before anything is committed.
func (r *Registry) Load(doc Document) error {
	byName := make(map[nameKey]string)
	byID := make(map[string]nameKey)
	for service, methods := range doc {
		for method, id := range methods {
			if dup, taken := byID[id]; taken {
				return fmt.Errorf("load mapping: id %q bound to both %s.%s and %s.%s: %w",
					id, dup.service, dup.method, service, method, rpcerror.ErrDuplicateID)
			}
			key := nameKey{service: service, method: method}
			byName[key] = id
			byID[id] = key
		}
	}

	r.mu.Lock()
	r.byName = byName
	r.byID = byID
	r.mu.Unlock()
	return nil
}

// Len returns the number of registered mappings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
