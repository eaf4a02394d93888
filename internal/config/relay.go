package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"

	"github.com/ameshkov/webrelay/internal/relay"
	"github.com/ameshkov/webrelay/internal/trust"
)

// Relay represents the relay listener section of the configuration file.
type Relay struct {
	// TrustedProxy lists the reverse proxies whose forwarding headers are
	// honored.  true trusts everybody.
	TrustedProxy *TrustValue `yaml:"trusted-proxy"`

	// TLSOffload means that TLS is terminated by a load balancer in front of
	// the relay, which then serves plain HTTP.  A list of addresses also
	// makes them trusted the same way TrustedProxy does.
	TLSOffload *TrustValue `yaml:"tls-offload"`

	// RelayPortBind is the address the relay listener binds to.  If empty,
	// all interfaces are used.
	RelayPortBind string `yaml:"relay-port-bind"`

	// ServerName is the public name of the server.  If empty, the common name
	// of the certificate is used.
	ServerName string `yaml:"server-name"`

	// TLSCertPath is the path to the TLS certificate.  Required unless
	// TLSOffload is enabled.
	TLSCertPath string `yaml:"tls-cert-path"`

	// TLSKeyPath is the path to the TLS private key.  Required unless
	// TLSOffload is enabled.
	TLSKeyPath string `yaml:"tls-key-path"`

	// DNSUpstream is the address of the DNS upstream used to resolve the
	// hostname in the trusted proxy list, e.g. "tls://dns.google".  If empty,
	// the system resolver is used.
	DNSUpstream string `yaml:"dns-upstream"`

	// RelayPort is the first port the relay listener tries.  Must be
	// specified.
	RelayPort int `yaml:"relay-port"`

	// AliasPort is the externally visible port, it is only reported.
	AliasPort int `yaml:"alias-port"`

	// MaxConns is the maximum number of simultaneous connections, 0 means no
	// limit.
	MaxConns int `yaml:"max-conns"`

	// ExactPorts makes the relay fail when RelayPort is busy instead of
	// trying the next ports.
	ExactPorts bool `yaml:"exact-ports"`

	// LANOnly hides the server name.
	LANOnly bool `yaml:"lan-only"`

	// WSCompression enables WebSocket per-message compression.
	WSCompression bool `yaml:"ws-compression"`
}

// ToTrust returns the matchers for the trusted proxies and the TLS offload
// load balancers.  The hostnames in them are not resolved yet, see
// [trust.AnyOf.Refine].  closer releases the DNS upstream connections, it is
// nil when the system resolver is used.
func (f *File) ToTrust() (matchers trust.AnyOf, closer io.Closer, err error) {
	if f.Relay == nil {
		return nil, nil, fmt.Errorf("relay config is empty")
	}

	var resolver trust.Resolver
	if f.Relay.DNSUpstream != "" {
		var ups *trust.UpstreamResolver
		ups, err = trust.NewUpstreamResolver(f.Relay.DNSUpstream)
		if err != nil {
			return nil, nil, fmt.Errorf("parse relay dns upstream: %w", err)
		}

		resolver, closer = ups, ups
	}

	return trust.AnyOf{
		trust.NewMatcher(f.Relay.TrustedProxy.toTrustConfig(), resolver),
		trust.NewMatcher(f.Relay.TLSOffload.toTrustConfig(), resolver),
	}, closer, nil
}

// ToRelayConfig transforms the configuration to the internal relay.Config.
// The trust, the state registry, and the port binder are left for the caller
// to set.
func (f *File) ToRelayConfig() (relayCfg *relay.Config, err error) {
	if f.Relay == nil {
		return nil, fmt.Errorf("relay config is empty")
	}

	r := f.Relay
	relayCfg = &relay.Config{
		ListenAddr:    r.RelayPortBind,
		ListenPort:    r.RelayPort,
		ExactPorts:    r.ExactPorts,
		AliasPort:     r.AliasPort,
		LANOnly:       r.LANOnly,
		ServerName:    r.ServerName,
		TLSOffload:    r.TLSOffload.Enabled(),
		WSCompression: r.WSCompression,
		MaxConns:      r.MaxConns,
	}

	if relayCfg.TLSOffload {
		return relayCfg, nil
	}

	cert, err := loadX509KeyPair(r.TLSCertPath, r.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	relayCfg.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if relayCfg.ServerName == "" {
		relayCfg.ServerName, err = commonName(cert)
		if err != nil {
			return nil, fmt.Errorf("reading certificate name: %w", err)
		}
	}

	return relayCfg, nil
}

// commonName returns the subject common name of the leaf certificate.
func commonName(cert tls.Certificate) (name string, err error) {
	if len(cert.Certificate) == 0 {
		return "", fmt.Errorf("no certificates")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return "", err
	}

	return leaf.Subject.CommonName, nil
}

// loadX509KeyPair reads and parses a public/private key pair from a pair of
// files.  The files must contain PEM encoded data.  The certificate file may
// contain intermediate certificates following the leaf certificate to form a
// certificate chain.
func loadX509KeyPair(certFile, keyFile string) (crt tls.Certificate, err error) {
	// #nosec G304 -- Trust the file path that is given in the configuration.
	certPEMBlock, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	// #nosec G304 -- Trust the file path that is given in the configuration.
	keyPEMBlock, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.X509KeyPair(certPEMBlock, keyPEMBlock)
}
