package relay

import (
	"bufio"
	"net"
	"net/http"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// securityHeaders are set on every response of the relay listener.
var securityHeaders = map[string]string{
	"Strict-Transport-Security": "max-age=60000; includeSubDomains",
	"Referrer-Policy":           "no-referrer",
	"X-Frame-Options":           "SAMEORIGIN",
	"X-XSS-Protection":          "1; mode=block",
	"X-Content-Type-Options":    "nosniff",
	"Content-Security-Policy":   "default-src 'none'; style-src 'self' 'unsafe-inline';",
}

// headerPoweredBy is the header some frameworks add by default.
const headerPoweredBy = "X-Powered-By"

// Paths of the relay endpoints.
const (
	// PathControlRedirect is the path of the endpoint that sets up the relay
	// session.
	PathControlRedirect = "/control-redirect.ashx"

	// PathTunnel is the path of the WebSocket relay tunnel.
	PathTunnel = "/meshrelay.ashx"
)

// closeNoSession is the close message sent to tunnels without a relay
// session.
const closeNoSession = "no relay session"

// setSecurityHeaders sets securityHeaders in h and removes the headers that
// must not be sent.
func setSecurityHeaders(h http.Header) {
	h.Del(headerPoweredBy)
	for k, v := range securityHeaders {
		h.Set(k, v)
	}
}

// withSecurityHeaders returns a handler adding securityHeaders to every
// response of next.  The headers are set again when the response is
// committed, so next can neither override nor remove them.
func withSecurityHeaders(next http.Handler) (h http.Handler) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug("relay: web request %s", r.URL)

		// Responses that next never writes are committed by net/http itself,
		// so set the headers up front as well.
		setSecurityHeaders(w.Header())

		next.ServeHTTP(&headerWriter{ResponseWriter: w}, r)
	})
}

// headerWriter is an http.ResponseWriter that sets the security headers right
// before the status line is written.
type headerWriter struct {
	http.ResponseWriter

	wroteHeader bool
}

// type check
var (
	_ http.ResponseWriter = (*headerWriter)(nil)
	_ http.Flusher        = (*headerWriter)(nil)
	_ http.Hijacker       = (*headerWriter)(nil)
)

// WriteHeader implements the http.ResponseWriter interface for *headerWriter.
func (w *headerWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		setSecurityHeaders(w.Header())
	}

	w.ResponseWriter.WriteHeader(code)
}

// Write implements the http.ResponseWriter interface for *headerWriter.
func (w *headerWriter) Write(b []byte) (n int, err error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	return w.ResponseWriter.Write(b)
}

// Flush implements the http.Flusher interface for *headerWriter.
func (w *headerWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements the http.Hijacker interface for *headerWriter.
func (w *headerWriter) Hijack() (conn net.Conn, rw *bufio.ReadWriter, err error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.Error("hijacking is not supported")
	}

	return hj.Hijack()
}

// Unwrap returns the underlying writer for [http.ResponseController].
func (w *headerWriter) Unwrap() (rw http.ResponseWriter) {
	return w.ResponseWriter
}

// newRouter returns the default request router.  upgrader is used for the
// tunnel endpoint.
func newRouter(upgrader *websocket.Upgrader) (r *mux.Router) {
	r = mux.NewRouter()
	r.HandleFunc(PathControlRedirect, handleControlRedirect).Methods(http.MethodGet)
	r.Handle(PathTunnel, &tunnelHandler{upgrader: upgrader}).Methods(http.MethodGet)

	return r
}

// handleControlRedirect sends the client to the root of the relay.
func handleControlRedirect(w http.ResponseWriter, r *http.Request) {
	log.Debug("relay: control redirect, query %q", r.URL.RawQuery)

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, "/", http.StatusFound)
}

// tunnelHandler accepts the WebSocket tunnels.  No relay session is ever
// established, every tunnel is closed right after the upgrade.
type tunnelHandler struct {
	upgrader *websocket.Upgrader
}

// type check
var _ http.Handler = (*tunnelHandler)(nil)

// ServeHTTP implements the http.Handler interface for *tunnelHandler.
func (h *tunnelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		log.Debug("relay: upgrading tunnel from %s: %s", r.RemoteAddr, err)

		return
	}
	defer log.OnCloserError(conn, log.DEBUG)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeNoSession)
	err = conn.WriteMessage(websocket.CloseMessage, msg)
	if err != nil {
		log.Debug("relay: closing tunnel from %s: %s", r.RemoteAddr, err)
	}
}
