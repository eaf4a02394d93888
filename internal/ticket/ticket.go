// Package ticket implements a bounded store of TLS session tickets used for
// stateful session resumption.
package ticket

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/AdguardTeam/golibs/log"
	"github.com/ameshkov/webrelay/internal/metrics"
)

// DefaultMaxSize is the default maximum number of tickets in a *Cache.
const DefaultMaxSize = 1000

// idLen is the length of the random session identifiers handed to clients.
const idLen = 32

// Cache is a bounded store of session tickets keyed by the hex-encoded
// session ID.  When a new ticket would make it exceed its maximum size, the
// whole cache is cleared first.  It is safe for concurrent use.
type Cache struct {
	// mu protects tickets.
	mu      *sync.Mutex
	tickets map[string][]byte
	maxSize int
}

// New returns a new *Cache holding at most maxSize tickets.  If maxSize is not
// positive, DefaultMaxSize is used.
func New(maxSize int) (c *Cache) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return &Cache{
		mu:      &sync.Mutex{},
		tickets: map[string][]byte{},
		maxSize: maxSize,
	}
}

// Put stores t under id, overwriting the previous value, if any.
func (c *Cache) Put(id string, t []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tickets[id]; !ok && len(c.tickets) >= c.maxSize {
		log.Debug("ticket: cache is full with %d tickets, clearing", len(c.tickets))

		c.tickets = map[string][]byte{}
		metrics.TicketCacheResetsTotal.Inc()
	}

	c.tickets[id] = t
}

// Get returns the ticket stored under id.
func (c *Cache) Get(id string) (t []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok = c.tickets[id]
	if ok {
		metrics.TicketCacheHitsTotal.Inc()
	} else {
		metrics.TicketCacheMissesTotal.Inc()
	}

	return t, ok
}

// Len returns the number of stored tickets.
func (c *Cache) Len() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tickets)
}

// WrapSession stores the session state in c and returns a random identifier
// for it as the ticket sent to the client.  It has the signature of
// [tls.Config.WrapSession].
func (c *Cache) WrapSession(_ tls.ConnectionState, ss *tls.SessionState) (id []byte, err error) {
	state, err := ss.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serializing session state: %w", err)
	}

	id = make([]byte, idLen)
	if _, err = rand.Read(id); err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	c.Put(hex.EncodeToString(id), state)

	return id, nil
}

// UnwrapSession returns the session state stored for identity.  Unknown
// identities make the handshake fall back to a full one.  It has the
// signature of [tls.Config.UnwrapSession].
func (c *Cache) UnwrapSession(
	identity []byte,
	_ tls.ConnectionState,
) (ss *tls.SessionState, err error) {
	state, ok := c.Get(hex.EncodeToString(identity))
	if !ok {
		return nil, nil
	}

	ss, err = tls.ParseSessionState(state)
	if err != nil {
		log.Debug("ticket: parsing stored session state: %s", err)

		return nil, nil
	}

	return ss, nil
}

// Configure installs the session hooks of c into conf.
func (c *Cache) Configure(conf *tls.Config) {
	conf.WrapSession = c.WrapSession
	conf.UnwrapSession = c.UnwrapSession
}
