package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"golang.org/x/sys/unix"
)

// defaultShutdownTimeout is the time given to each service to close.
const defaultShutdownTimeout = 10 * time.Second

// Exit status constants.
const (
	statusSuccess = 0
	statusError   = 1
)

// relayService is the part of *relay.Server the signal handler needs.
type relayService interface {
	io.Closer

	// Port returns the bound port or 0 if the relay is not listening.
	Port() (port int)
}

// signalHandler processes incoming signals and shuts services down.
type signalHandler struct {
	signal chan os.Signal

	// relay is closed first, so that no new requests are accepted while the
	// rest is being shut down.
	relay relayService

	// services are closed after relay in the order they were given.
	services []io.Closer

	// timeout bounds the closing of every single service.
	timeout time.Duration
}

// handle processes OS signals.  status is [statusSuccess] on success and
// [statusError] on error.
func (h *signalHandler) handle() (status int) {
	defer log.OnPanic("sighdlr: handle")

	for sig := range h.signal {
		log.Info("sighdlr: received signal %q", sig)

		switch sig {
		case
			unix.SIGINT,
			unix.SIGQUIT,
			unix.SIGTERM:
			return h.shutdown()
		}
	}

	// Shouldn't happen, since h.signal is currently never closed.
	return statusError
}

// shutdown stops the relay listener and then the other services.  status is
// [statusSuccess] on success and [statusError] if any of them failed or
// timed out.
func (h *signalHandler) shutdown() (status int) {
	if h.relay != nil {
		port := h.relay.Port()
		if port == 0 {
			log.Info("sighdlr: relay is not listening, closing")
		} else {
			log.Info("sighdlr: stopping relay on port %d", port)
		}

		err := closeWithTimeout(h.relay, h.timeout)
		if err != nil {
			log.Error("sighdlr: stopping relay: %s", err)
			status = statusError
		}
	}

	for i, service := range h.services {
		err := closeWithTimeout(service, h.timeout)
		if err != nil {
			log.Error("sighdlr: shutting down service at index %d: %s", i, err)
			status = statusError
		}
	}

	log.Info("sighdlr: shutting down with status %d", status)

	return status
}

// closeWithTimeout closes c and waits for at most timeout.  A closer that
// takes longer is abandoned.
func closeWithTimeout(c io.Closer, timeout time.Duration) (err error) {
	errCh := make(chan error, 1)
	go func() {
		defer log.OnPanic("sighdlr: close")

		errCh <- c.Close()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-errCh:
		return err
	case <-timer.C:
		return fmt.Errorf("closing timed out after %s", timeout)
	}
}

// newSignalHandler returns a new signalHandler that shuts down relay and
// then svcs.  relay may be nil.
func newSignalHandler(relay relayService, svcs ...io.Closer) (h signalHandler) {
	h = signalHandler{
		signal:   make(chan os.Signal, 1),
		relay:    relay,
		services: svcs,
		timeout:  defaultShutdownTimeout,
	}

	signal.Notify(h.signal, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)

	return h
}
