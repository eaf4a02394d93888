// Package realip computes the effective client address and virtual host of an
// HTTP request that may have passed through a reverse proxy.
package realip

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/AdguardTeam/golibs/log"
	"github.com/ameshkov/webrelay/internal/metrics"
	"github.com/ameshkov/webrelay/internal/trust"
)

// Forwarding headers in the order of priority.
const (
	HeaderCFConnectingIP = "Cf-Connecting-Ip"
	HeaderForwardedFor   = "X-Forwarded-For"
	HeaderRealIP         = "X-Real-Ip"
	HeaderForwardedHost  = "X-Forwarded-Host"
)

// mappedPrefix is the prefix of IPv4-mapped IPv6 addresses.
const mappedPrefix = "::ffff:"

// clientHeaders are the headers that may carry the client address, the first
// present one wins.
var clientHeaders = []string{
	HeaderCFConnectingIP,
	HeaderForwardedFor,
	HeaderRealIP,
}

// Context is the effective client information of a single request.
type Context struct {
	// ClientIP is the address of the originating client.  It is usually, but
	// not necessarily, an IP address.
	ClientIP string

	// VirtualHost is the host the client has requested.
	VirtualHost string

	// Proxied is true if the peer was trusted, so that the forwarding
	// headers, when present, were honored.
	Proxied bool
}

// Normalize strips the IPv4-mapped IPv6 prefix from peerAddr.
func Normalize(peerAddr string) (addr string) {
	return strings.TrimPrefix(peerAddr, mappedPrefix)
}

// Resolve returns the effective client address and virtual host.  peerAddr is
// the address of the immediate peer without port, host is the value of the
// Host header.  Forwarding headers from h are only honored if m trusts the
// peer.  A nil m trusts nobody.
func Resolve(peerAddr, host string, h http.Header, m trust.PeerMatcher) (c Context) {
	peerAddr = Normalize(peerAddr)

	c = Context{
		ClientIP:    peerAddr,
		VirtualHost: host,
	}

	if m == nil || !m.IsTrustedPeer(peerAddr) {
		return c
	}

	c.Proxied = true

	// A header whose first element is empty doesn't count as present, the
	// next one is tried, so a malformed header never yields an empty address.
	for _, name := range clientHeaders {
		if v := firstElem(h.Get(name)); v != "" {
			c.ClientIP = v

			break
		}
	}

	// Only the "ip:port" form is handled, IPv6 addresses contain more than
	// one colon.
	if ip, _, ok := strings.Cut(c.ClientIP, ":"); ok && strings.Count(c.ClientIP, ":") == 1 {
		c.ClientIP = ip
	}

	if v, _, _ := strings.Cut(h.Get(HeaderForwardedHost), ","); v != "" {
		c.VirtualHost = v
	}

	return c
}

// firstElem returns the first element of a comma-separated list without the
// surrounding whitespace.
func firstElem(v string) (elem string) {
	elem, _, _ = strings.Cut(v, ",")

	return strings.TrimSpace(elem)
}

// ResolveRequest is like Resolve but takes the peer address and the host from
// r.
func ResolveRequest(r *http.Request, m trust.PeerMatcher) (c Context) {
	return Resolve(PeerAddr(r), r.Host, r.Header, m)
}

// PeerAddr returns the address of the immediate peer of r without the port.
// If r.RemoteAddr is not a valid host:port pair, it's returned as is.
func PeerAddr(r *http.Request) (addr string) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// ctxKey is the type of the context key for Context.
type ctxKey struct{}

// WithContext returns a copy of parent with c attached to it.
func WithContext(parent context.Context, c Context) (ctx context.Context) {
	return context.WithValue(parent, ctxKey{}, c)
}

// FromContext returns the Context attached to ctx, if any.
func FromContext(ctx context.Context) (c Context, ok bool) {
	c, ok = ctx.Value(ctxKey{}).(Context)

	return c, ok
}

// Middleware returns a handler that resolves the client information of every
// request using m and attaches it to the request context before calling next.
func Middleware(m trust.PeerMatcher, next http.Handler) (h http.Handler) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := ResolveRequest(r, m)

		log.Debug("realip: %s: client %s, host %q, proxied %t", r.RemoteAddr, c.ClientIP, c.VirtualHost, c.Proxied)

		proxied := "0"
		if c.Proxied {
			proxied = "1"
		}
		metrics.RequestsTotal.WithLabelValues(proxied).Inc()
		metrics.ObserveClient(c.ClientIP)

		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), c)))
	})
}
