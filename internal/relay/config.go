package relay

import (
	"crypto/tls"
	"net/http"

	"github.com/ameshkov/webrelay/internal/portbind"
	"github.com/ameshkov/webrelay/internal/srvstate"
	"github.com/ameshkov/webrelay/internal/ticket"
	"github.com/ameshkov/webrelay/internal/trust"
)

// Config represents the relay listener configuration.
type Config struct {
	// ListenAddr is the address the relay listener binds to.  Empty string
	// means all interfaces.
	ListenAddr string

	// ListenPort is the first port to try.  Higher ports are tried when it's
	// busy, unless ExactPorts is true.
	ListenPort int

	// ExactPorts makes a busy ListenPort fatal.
	ExactPorts bool

	// AliasPort is the port the relay is reachable at from the outside, e.g.
	// behind a port-forwarding router.  It is only reported, 0 means none.
	AliasPort int

	// LANOnly hides the server name from the startup log and the state.
	LANOnly bool

	// ServerName is the public name of the server, usually the common name
	// of its certificate.
	ServerName string

	// TLSOffload means that TLS is terminated before the relay, so the
	// listener serves plain HTTP.
	TLSOffload bool

	// TLSConfig is the base TLS configuration with the server certificates.
	// It is required unless TLSOffload is true.  It is cloned and hardened by
	// the server.
	TLSConfig *tls.Config

	// Trust decides whose forwarding headers are honored.  If nil, nobody is
	// trusted.
	Trust trust.PeerMatcher

	// Tickets stores TLS session tickets.  If nil, a new cache of the default
	// size is used.
	Tickets *ticket.Cache

	// State receives the listening ports and the server name.  If nil, the
	// state is not reported.
	State srvstate.Updater

	// Binder finds the listening port.  If nil, the default one is used.
	Binder *portbind.Binder

	// Handler is the request router.  If nil, a router with the control
	// redirect endpoint is used.
	Handler http.Handler

	// WSCompression enables per-message deflate for WebSocket connections.
	WSCompression bool

	// MaxConns limits the number of simultaneous connections.  0 means no
	// limit.
	MaxConns int
}
