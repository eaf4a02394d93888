// Package relay implements the relay listener: it finds a port, starts the
// HTTP or HTTPS server on it and resolves the real client address of every
// request.
package relay

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/ameshkov/webrelay/internal/metrics"
	"github.com/ameshkov/webrelay/internal/portbind"
	"github.com/ameshkov/webrelay/internal/realip"
	"github.com/ameshkov/webrelay/internal/srvstate"
	"github.com/ameshkov/webrelay/internal/ticket"
	"github.com/gorilla/websocket"
	xnetutil "golang.org/x/net/netutil"
)

const (
	// readHeaderTimeout is the timeout for reading request headers.
	readHeaderTimeout = 10 * time.Second

	// idleTimeout is the keep-alive timeout.
	idleTimeout = 120 * time.Second

	// maxHeaderBytes is the maximum size of request headers.
	maxHeaderBytes = 1 << 20
)

// Server is the relay listener.
type Server struct {
	started bool
	wg      *sync.WaitGroup

	binder   *portbind.Binder
	state    srvstate.Updater
	srv      *http.Server
	upgrader *websocket.Upgrader
	tickets  *ticket.Cache

	listenAddr string
	serverName string
	listener   net.Listener

	startPort int
	port      int
	aliasPort int
	maxConns  int

	exactPorts bool
	lanOnly    bool

	// mu protects started, listener, and port.
	mu *sync.Mutex
}

// type check
var _ io.Closer = (*Server)(nil)

// NewServer creates a new instance of *Server.
func NewServer(conf *Config) (s *Server, err error) {
	if !conf.TLSOffload && conf.TLSConfig == nil {
		return nil, errors.Error("tls configuration is required without tls offload")
	}

	s = &Server{
		wg:         &sync.WaitGroup{},
		mu:         &sync.Mutex{},
		binder:     conf.Binder,
		state:      conf.State,
		tickets:    conf.Tickets,
		listenAddr: conf.ListenAddr,
		serverName: conf.ServerName,
		startPort:  conf.ListenPort,
		aliasPort:  conf.AliasPort,
		maxConns:   conf.MaxConns,
		exactPorts: conf.ExactPorts,
		lanOnly:    conf.LANOnly,
		upgrader: &websocket.Upgrader{
			EnableCompression: conf.WSCompression,
		},
	}

	if s.binder == nil {
		s.binder = portbind.New(nil)
	}

	if s.tickets == nil {
		s.tickets = ticket.New(ticket.DefaultMaxSize)
	}

	h := conf.Handler
	if h == nil {
		h = newRouter(s.upgrader)
	}

	s.srv = &http.Server{
		Handler:           withSecurityHeaders(realip.Middleware(conf.Trust, h)),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
		ErrorLog:          log.StdLog("relay: http", log.DEBUG),
	}

	if !conf.TLSOffload {
		s.srv.TLSConfig = newTLSConfig(conf.TLSConfig, s.tickets)
	}

	return s, nil
}

// isTLS returns true if s serves HTTPS.
func (s *Server) isTLS() (ok bool) {
	return s.srv.TLSConfig != nil
}

// proto returns the name of the protocol served by s.
func (s *Server) proto() (p string) {
	if s.isTLS() {
		return "https"
	}

	return "http"
}

// Upgrader returns the WebSocket upgrader of the tunnel endpoint.
func (s *Server) Upgrader() (u *websocket.Upgrader) {
	return s.upgrader
}

// Tickets returns the session ticket cache of s.
func (s *Server) Tickets() (c *ticket.Cache) {
	return s.tickets
}

// Port returns the port s listens on or 0 if it's not listening.
func (s *Server) Port() (port int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port
}

// Addr returns the address s listens on or nil if it's not listening.
func (s *Server) Addr() (addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Start finds a free port and starts serving on it.  If no usable port is
// found, s is left not listening and nil is returned.  In the exact-port mode
// a busy port is fatal.
func (s *Server) Start() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info("relay: starting")

	if s.started {
		return errors.Error("server is already started")
	}

	port := s.binder.Acquire(s.startPort, s.listenAddr, s.exactPorts)
	if !portbind.Usable(port) {
		log.Info("relay: no usable port starting at %d, not listening", s.startPort)

		return nil
	}

	addr := netutil.JoinHostPort(s.listenAddr, uint16(port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	if s.maxConns > 0 {
		l = xnetutil.LimitListener(l, s.maxConns)
	}

	s.listener = l
	s.port = port
	s.started = true

	s.wg.Add(1)
	go s.serve(l)

	s.report()

	return nil
}

// serve runs the HTTP server on l until it's closed.  Errors are only logged.
func (s *Server) serve(l net.Listener) {
	defer s.wg.Done()
	defer log.OnPanic("relay: serve")

	proto := s.proto()
	metrics.ListenerUp.WithLabelValues(proto).Set(1)
	defer metrics.ListenerUp.WithLabelValues(proto).Set(0)

	var err error
	if s.isTLS() {
		err = s.srv.ServeTLS(l, "", "")
	} else {
		err = s.srv.Serve(l)
	}

	if errors.Is(err, http.ErrServerClosed) {
		log.Info("relay: exiting listener loop as it has been closed")

		return
	}

	log.Error("relay: %s server error: %s", proto, err)
}

// report logs the startup line and sends the listening port to the state
// registry.
func (s *Server) report() {
	alias := ""
	if s.aliasPort != 0 {
		alias = fmt.Sprintf(", alias port %d", s.aliasPort)
	}

	portKey, aliasKey := srvstate.KeyHTTPRelayPort, srvstate.KeyHTTPRelayAliasPort
	if s.isTLS() {
		portKey, aliasKey = srvstate.KeyHTTPSRelayPort, srvstate.KeyHTTPSRelayAliasPort

		if s.lanOnly {
			log.Info("relay: HTTPS relay server running on port %d%s.", s.port, alias)
		} else {
			log.Info("relay: HTTPS relay server running on %s:%d%s.", s.serverName, s.port, alias)
			s.updateState(srvstate.KeyServerName, s.serverName)
		}

		log.Info("relay: web relay server listening on %s port %d.", s.bindAddrString(), s.port)
	} else {
		log.Info("relay: HTTP relay server running on port %d%s.", s.port, alias)
	}

	s.updateState(portKey, strconv.Itoa(s.port))
	if s.aliasPort != 0 {
		s.updateState(aliasKey, strconv.Itoa(s.aliasPort))
	}
}

// bindAddrString returns the bind address for logging.
func (s *Server) bindAddrString() (addr string) {
	if s.listenAddr == "" {
		return "0.0.0.0"
	}

	return s.listenAddr
}

// updateState reports the value of key if there is a state registry.
func (s *Server) updateState(key, value string) {
	if s.state != nil {
		s.state.UpdateServerState(key, value)
	}
}

// Close implements the io.Closer interface for *Server.  A closed server
// cannot be started again.
func (s *Server) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info("relay: closing")

	if !s.started {
		return nil
	}

	err = s.srv.Close()

	log.Info("relay: waiting until the listener stops")

	s.wg.Wait()

	s.listener = nil
	s.port = 0

	log.Info("relay: closed")

	if err != nil {
		return fmt.Errorf("closing http server: %w", err)
	}

	return nil
}
