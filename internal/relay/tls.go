package relay

import (
	"crypto/tls"

	"github.com/ameshkov/webrelay/internal/ticket"
)

// cipherSuites are the TLS 1.2 cipher suites allowed by the relay listener.
// Only forward-secret AEAD suites are listed, TLS 1.3 suites are not
// configurable and are all of that kind.
var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// newTLSConfig returns a copy of base restricted to TLS 1.2 and newer with
// the session tickets stored in tickets.
func newTLSConfig(base *tls.Config, tickets *ticket.Cache) (conf *tls.Config) {
	conf = base.Clone()
	conf.MinVersion = tls.VersionTLS12
	conf.CipherSuites = cipherSuites
	conf.SessionTicketsDisabled = false

	tickets.Configure(conf)

	return conf
}
