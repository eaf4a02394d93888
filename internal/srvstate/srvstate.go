// Package srvstate contains the registry where services report their runtime
// state, such as the ports they are listening on.
package srvstate

import (
	"maps"
	"sync"

	"github.com/AdguardTeam/golibs/log"
	"github.com/ameshkov/webrelay/internal/metrics"
)

// Well-known state keys.
const (
	KeyHTTPSRelayPort      = "https-relay-port"
	KeyHTTPSRelayAliasPort = "https-relay-aliasport"
	KeyHTTPRelayPort       = "http-relay-port"
	KeyHTTPRelayAliasPort  = "http-relay-aliasport"
	KeyServerName          = "servername"
)

// Updater receives state updates.
type Updater interface {
	// UpdateServerState sets the value of key.  It must be safe for
	// concurrent use.
	UpdateServerState(key, value string)
}

// Registry is an in-memory Updater that also exports the state as metrics.
type Registry struct {
	// mu protects state.
	mu    *sync.Mutex
	state map[string]string
}

// type check
var _ Updater = (*Registry)(nil)

// New creates a new empty *Registry.
func New() (r *Registry) {
	return &Registry{
		mu:    &sync.Mutex{},
		state: map[string]string{},
	}
}

// UpdateServerState implements the Updater interface for *Registry.
func (r *Registry) UpdateServerState(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.state[key]; ok {
		metrics.ServerState.DeleteLabelValues(key, prev)
	}

	r.state[key] = value
	metrics.ServerState.WithLabelValues(key, value).Set(1)

	log.Debug("srvstate: %s = %q", key, value)
}

// Get returns the value of key.
func (r *Registry) Get(key string) (value string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	value, ok = r.state[key]

	return value, ok
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() (state map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Clone(r.state)
}
