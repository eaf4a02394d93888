// Package portbind finds a free TCP port by probing sequential port numbers.
package portbind

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/AdguardTeam/golibs/log"
	"github.com/ameshkov/webrelay/internal/metrics"
)

// MaxPort is the upper boundary of probing.  It is never a usable result.
const MaxPort = 65535

// ListenFunc opens a listener, see [net.Listen].
type ListenFunc func(network, address string) (l net.Listener, err error)

// FatalFunc is called when the exact port requested is not available.  It is
// expected to terminate the process.
type FatalFunc func(err error)

// Config is the configuration of a *Binder.
type Config struct {
	// Listen opens the transient probe listeners.  If nil, [net.Listen] is
	// used.
	Listen ListenFunc

	// Fatal is called on a bind failure in the exact-port mode.  If nil, the
	// process exits with status 1.
	Fatal FatalFunc
}

// Binder finds free ports.
type Binder struct {
	listen ListenFunc
	fatal  FatalFunc
}

// New creates a new *Binder.  conf may be nil.
func New(conf *Config) (b *Binder) {
	b = &Binder{
		listen: net.Listen,
		fatal:  exit,
	}

	if conf == nil {
		return b
	}

	if conf.Listen != nil {
		b.listen = conf.Listen
	}

	if conf.Fatal != nil {
		b.fatal = conf.Fatal
	}

	return b
}

// exit is the default FatalFunc.
func exit(_ error) {
	os.Exit(1)
}

// Acquire returns the first port at or above startPort that can be bound on
// bindAddr.  An empty bindAddr means all interfaces.  If exactPortsOnly is
// true, only startPort is tried and a failure to bind it is fatal.  port is 0
// when no free port is found.  Ports are tried one after another, each probe
// listener is closed before the next one is opened.
func (b *Binder) Acquire(startPort int, bindAddr string, exactPortsOnly bool) (port int) {
	for port = startPort; port >= 0 && port <= MaxPort; port++ {
		err := b.probe(port, bindAddr)
		if err == nil {
			log.Debug("portbind: port %d on %q is free", port, bindAddr)

			return port
		}

		metrics.ProbeFailuresTotal.Inc()

		if exactPortsOnly {
			log.Error("portbind: relay server port %d not available: %s", port, err)
			b.fatal(fmt.Errorf("port %d not available: %w", port, err))

			return 0
		}

		log.Debug("portbind: port %d is busy: %s", port, err)
	}

	log.Info("portbind: no free port found starting at %d", startPort)

	return 0
}

// probe binds and immediately releases the port.
func (b *Binder) probe(port int, bindAddr string) (err error) {
	l, err := b.listen("tcp", net.JoinHostPort(bindAddr, strconv.Itoa(port)))
	if err != nil {
		return err
	}

	log.OnCloserError(l, log.DEBUG)

	return nil
}

// Usable returns true if a listener may be started on port.
func Usable(port int) (ok bool) {
	return port > 0 && port < MaxPort
}
