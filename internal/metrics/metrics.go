// Package metrics contains definitions of most of the prometheus metrics
// that we use in webrelay.
//
// TODO(ameshkov): consider not using promauto.
package metrics

import (
	"net/netip"
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// constants with the namespace and the subsystem names that we use in our
// prometheus metrics.
const (
	namespace = "webrelay"

	subsystemApp    = "app"
	subsystemRelay  = "relay"
	subsystemTicket = "ticket"
	subsystemBind   = "portbind"
)

// RequestsTotal is the total number of HTTP requests that passed the client
// address resolution.  The "proxied" label is "1" when the client address was
// taken from the proxy headers.
var RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "requests_total",
	Help:      "The total number of requests received by the relay listener.",
}, []string{"proxied"})

// ListenerUp is a gauge that is set to 1 when the relay listener is serving.
var ListenerUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "listener_up",
	Help:      "Whether the relay listener is accepting connections.",
}, []string{"proto"})

// ProbeFailuresTotal is the total number of ports that were found busy while
// looking for a free one.
var ProbeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystemBind,
	Name:      "probe_failures_total",
	Help:      "The total number of failed port probes.",
})

// TicketCacheHitsTotal is the total number of successful session ticket
// lookups.
var TicketCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystemTicket,
	Name:      "cache_hits_total",
	Help:      "The total number of session ticket lookups that found a ticket.",
})

// TicketCacheMissesTotal is the total number of session ticket lookups that
// did not find anything.
var TicketCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystemTicket,
	Name:      "cache_misses_total",
	Help:      "The total number of session ticket lookups that found nothing.",
})

// TicketCacheResetsTotal is the total number of times the session ticket
// cache has been cleared because it was full.
var TicketCacheResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystemTicket,
	Name:      "cache_resets_total",
	Help:      "The total number of session ticket cache overflows.",
})

// ServerState mirrors the values reported to the server-state registry.
var ServerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: subsystemApp,
	Name:      "server_state",
	Help:      "The values reported by the relay listener, set to 1 for the current value.",
}, []string{"key", "value"})

// uniqueClients estimates the number of distinct client addresses seen by the
// relay listener.
var uniqueClients = &clientSketch{
	sketch: hyperloglog.New16(),
	mu:     &sync.Mutex{},
}

var _ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "unique_clients",
	Help:      "The estimated number of distinct client addresses.",
}, func() (v float64) {
	return float64(uniqueClients.estimate())
})

// clientSketch is a hyperloglog sketch protected by a mutex.
type clientSketch struct {
	sketch *hyperloglog.Sketch
	mu     *sync.Mutex
}

func (s *clientSketch) insert(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sketch.Insert(b)
}

func (s *clientSketch) estimate() (n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sketch.Estimate()
}

// ObserveClient records the resolved client address.  Values that are not IP
// addresses are counted by their string form.
func ObserveClient(clientIP string) {
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		uniqueClients.insert([]byte(clientIP))

		return
	}

	b, _ := addr.MarshalBinary()
	uniqueClients.insert(b)
}

// UniqueClients returns the current estimate of distinct client addresses.
func UniqueClients() (n uint64) {
	return uniqueClients.estimate()
}

// SetUpGauge signals that the server has been started.  Use a function here to
// avoid circular dependencies.
func SetUpGauge(version, branch, revision, goVersion string) {
	upGauge := promauto.NewGauge(
		prometheus.GaugeOpts{
			Name:      "up",
			Namespace: namespace,
			Subsystem: subsystemApp,
			Help:      `A metric with a constant '1' value labeled by the build information.`,
			ConstLabels: prometheus.Labels{
				"version":   version,
				"branch":    branch,
				"revision":  revision,
				"goversion": goVersion,
			},
		},
	)

	upGauge.Set(1)
}
