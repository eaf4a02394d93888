// Package cmd is responsible for the program's command-line interface.
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/ameshkov/webrelay/internal/config"
	"github.com/ameshkov/webrelay/internal/metrics"
	"github.com/ameshkov/webrelay/internal/portbind"
	"github.com/ameshkov/webrelay/internal/relay"
	"github.com/ameshkov/webrelay/internal/srvstate"
	"github.com/ameshkov/webrelay/internal/version"
	"github.com/getsentry/sentry-go"
	goFlags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sentryFlushTimeout is the time given to sentry to send the pending events
// before exiting.
const sentryFlushTimeout = 2 * time.Second

// Main is the entry point of the program.
func Main() {
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("webrelay version: %s\n", version.Version())

		os.Exit(0)
	}

	envs, err := readEnvs()
	check("read environment", err)

	o, err := parseOptions()
	var flagErr *goFlags.Error
	if errors.As(err, &flagErr) && flagErr.Type == goFlags.ErrHelp {
		// This is a special case when we exit process here as we received
		// --help.
		os.Exit(0)
	}

	check("parse args", err)

	if o.Verbose {
		log.SetLevel(log.DEBUG)
	}

	log.Debug("cmd: options:\n%s", o)

	if envs.SentryDSN != "" {
		err = sentry.Init(sentry.ClientOptions{
			Dsn:     envs.SentryDSN,
			Release: version.Version(),
		})
		check("init sentry", err)
	}

	cfg, err := config.Load(o.ConfigPath)
	check("load config file", err)

	trustMatchers, resolverCloser, err := cfg.ToTrust()
	check("parse trust config", err)

	// Hostnames in the trusted lists are resolved in the background, they
	// don't match until then.
	_ = trustMatchers.Refine(context.Background())

	relayCfg, err := cfg.ToRelayConfig()
	check("parse relay config", err)

	relayCfg.Trust = trustMatchers
	relayCfg.State = srvstate.New()
	relayCfg.Binder = portbind.New(&portbind.Config{
		Fatal: fatal,
	})

	relaySrv, err := relay.NewServer(relayCfg)
	check("init relay server", err)

	err = relaySrv.Start()
	if err != nil {
		// The relay may be left not serving, the rest of the process keeps
		// working.
		log.Error("failed to start relay server: %s", err)
		sentry.CaptureException(err)
	}

	metrics.SetUpGauge(version.Version(), "", "", runtime.Version())

	if cfg.Prometheus != nil {
		go serveMetrics(cfg.Prometheus.Addr, cfg.Prometheus.Port)
	}

	var closers []io.Closer
	if resolverCloser != nil {
		closers = append(closers, resolverCloser)
	}

	sigHandler := newSignalHandler(relaySrv, closers...)
	status := sigHandler.handle()

	sentry.Flush(sentryFlushTimeout)
	os.Exit(status)
}

// check exits the process if err is not nil.
func check(operationName string, err error) {
	if err != nil {
		log.Error("failed to %s: %v", operationName, err)

		fatal(fmt.Errorf("%s: %w", operationName, err))
	}
}

// fatal reports err to sentry, if it's configured, and exits with
// [statusError].
func fatal(err error) {
	sentry.CaptureException(err)
	sentry.Flush(sentryFlushTimeout)

	os.Exit(statusError)
}

// serveMetrics starts the prometheus metrics endpoint.
func serveMetrics(listenAddr string, port uint16) {
	metricsAddr := netutil.JoinHostPort(listenAddr, port)
	log.Info("Starting metrics at %s", metricsAddr)

	mux := &http.ServeMux{}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health-check", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "OK")
	})

	srv := &http.Server{
		Addr:         metricsAddr,
		Handler:      mux,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}

	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Metrics failed to listen to %s: %v", metricsAddr, err)
	}
}
