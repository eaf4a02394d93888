// Package trust decides whether the immediate peer of a connection is a
// reverse proxy whose forwarding headers may be honored.
package trust

import (
	"context"
	"net/netip"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/log"
)

// Mode is the kind of a trust configuration.
type Mode uint8

// Mode values.
const (
	// ModeDisabled means that no peer is trusted and the peer address is
	// always authoritative.
	ModeDisabled Mode = iota

	// ModeTrustAll means that every peer is trusted.
	ModeTrustAll

	// ModeList means that only the peers listed in the configuration are
	// trusted.
	ModeList
)

// String implements the fmt.Stringer interface for Mode.
func (m Mode) String() (s string) {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeTrustAll:
		return "all"
	case ModeList:
		return "list"
	default:
		return "unknown"
	}
}

// Config is an immutable trust configuration.  The zero value is disabled.
type Config struct {
	// entries contains literal addresses or hostnames.  It is only used when
	// mode is ModeList.
	entries *container.MapSet[string]

	mode Mode
}

// Disabled returns a configuration that trusts nobody.
func Disabled() (c *Config) {
	return &Config{mode: ModeDisabled}
}

// TrustAll returns a configuration that trusts every peer.
func TrustAll() (c *Config) {
	return &Config{mode: ModeTrustAll}
}

// List returns a configuration that trusts the peers whose address is exactly
// one of entries.  An empty list trusts nobody.
func List(entries ...string) (c *Config) {
	return &Config{
		entries: container.NewMapSet(entries...),
		mode:    ModeList,
	}
}

// Mode returns the kind of c.
func (c *Config) Mode() (m Mode) {
	if c == nil {
		return ModeDisabled
	}

	return c.mode
}

// Entries returns a copy of the list entries of c.
func (c *Config) Entries() (entries []string) {
	if c.Mode() != ModeList {
		return nil
	}

	c.entries.Range(func(e string) (cont bool) {
		entries = append(entries, e)

		return true
	})

	return entries
}

// Trusts returns true if peerAddr is trusted by c.  A nil c trusts nobody.
func (c *Config) Trusts(peerAddr string) (ok bool) {
	switch c.Mode() {
	case ModeTrustAll:
		return true
	case ModeList:
		return c.entries.Has(peerAddr)
	default:
		return false
	}
}

// unresolvedHost returns the only entry of c if c is a list of exactly one
// entry that is not an IP address literal.
func (c *Config) unresolvedHost() (host string, ok bool) {
	if c.Mode() != ModeList || c.entries.Len() != 1 {
		return "", false
	}

	entries := c.Entries()
	if _, err := netip.ParseAddr(entries[0]); err == nil {
		return "", false
	}

	return entries[0], true
}

// PeerMatcher decides whether a peer is a trusted proxy.
type PeerMatcher interface {
	// IsTrustedPeer returns true if the forwarding headers sent by peerAddr
	// may be honored.  It must be safe for concurrent use.
	IsTrustedPeer(peerAddr string) (ok bool)
}

// Matcher is a PeerMatcher over a Config that can be refined once by
// resolving a single hostname entry.
type Matcher struct {
	conf     atomic.Pointer[Config]
	resolver Resolver
}

// type check
var _ PeerMatcher = (*Matcher)(nil)

// NewMatcher returns a new *Matcher for conf.  resolver is used by Refine, if
// it's nil, a *SystemResolver is used.
func NewMatcher(conf *Config, resolver Resolver) (m *Matcher) {
	if conf == nil {
		conf = Disabled()
	}

	if resolver == nil {
		resolver = NewSystemResolver()
	}

	m = &Matcher{
		resolver: resolver,
	}
	m.conf.Store(conf)

	return m
}

// Config returns the current configuration of m.
func (m *Matcher) Config() (c *Config) {
	return m.conf.Load()
}

// IsTrustedPeer implements the PeerMatcher interface for *Matcher.
func (m *Matcher) IsTrustedPeer(peerAddr string) (ok bool) {
	return m.conf.Load().Trusts(peerAddr)
}

// Refine starts resolving the hostname entry of the configuration, if it has
// exactly one entry and that entry is not an IP address.  It returns
// immediately; until the resolution succeeds the hostname never matches.  On
// success the entry is replaced by the first resolved address.  Failures are
// not retried.  done is closed when the background work is over.
func (m *Matcher) Refine(ctx context.Context) (done <-chan struct{}) {
	ch := make(chan struct{})

	host, ok := m.conf.Load().unresolvedHost()
	if !ok {
		close(ch)

		return ch
	}

	go func() {
		defer close(ch)
		defer log.OnPanic("trust: refine")

		addrs, err := m.resolver.LookupHost(ctx, host)
		if err != nil {
			log.Debug("trust: resolving %q: %s", host, err)

			return
		}

		if len(addrs) == 0 {
			log.Debug("trust: no addresses for %q", host)

			return
		}

		addr := addrs[0].Unmap().String()
		m.conf.Store(List(addr))

		log.Info("trust: %q resolved to %s", host, addr)
	}()

	return ch
}

// AnyOf is a PeerMatcher that trusts a peer when at least one of its
// matchers does.
type AnyOf []*Matcher

// type check
var _ PeerMatcher = AnyOf(nil)

// IsTrustedPeer implements the PeerMatcher interface for AnyOf.
func (a AnyOf) IsTrustedPeer(peerAddr string) (ok bool) {
	for _, m := range a {
		if m != nil && m.IsTrustedPeer(peerAddr) {
			return true
		}
	}

	return false
}

// Refine calls Refine on every matcher of a.  done is closed when all of them
// are finished.
func (a AnyOf) Refine(ctx context.Context) (done <-chan struct{}) {
	var pending []<-chan struct{}
	for _, m := range a {
		if m != nil {
			pending = append(pending, m.Refine(ctx))
		}
	}

	ch := make(chan struct{})
	go func() {
		defer close(ch)

		for _, p := range pending {
			<-p
		}
	}()

	return ch
}
