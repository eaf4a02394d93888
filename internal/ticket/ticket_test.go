package ticket_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/ameshkov/webrelay/internal/ticket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tlsServerName = "relay.example.com"

func TestCache_overflow(t *testing.T) {
	c := ticket.New(0)

	for i := 0; i < ticket.DefaultMaxSize; i++ {
		c.Put(fmt.Sprintf("%04x", i), []byte{byte(i)})
	}

	require.Equal(t, ticket.DefaultMaxSize, c.Len())

	c.Put("last", []byte("last"))
	require.Equal(t, 1, c.Len())

	for i := 0; i < ticket.DefaultMaxSize; i++ {
		_, ok := c.Get(fmt.Sprintf("%04x", i))
		require.False(t, ok)
	}

	got, ok := c.Get("last")
	require.True(t, ok)
	assert.Equal(t, []byte("last"), got)
}

func TestCache_overwrite(t *testing.T) {
	c := ticket.New(2)

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))

	// Overwriting an existing key doesn't grow the cache.
	c.Put("b", []byte("3"))
	require.Equal(t, 2, c.Len())

	got, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), got)

	c.Put("c", []byte("4"))
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCache_Get_missing(t *testing.T) {
	c := ticket.New(10)

	got, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 0, c.Len())
}

func TestCache_concurrent(t *testing.T) {
	const maxSize = 16

	c := ticket.New(maxSize)

	wg := &sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("%d-%d", n, j)
				c.Put(id, []byte(id))
				_, _ = c.Get(id)

				assert.LessOrEqual(t, c.Len(), maxSize)
			}
		}(i)
	}

	wg.Wait()
}

func TestCache_UnwrapSession_unknown(t *testing.T) {
	c := ticket.New(10)

	ss, err := c.UnwrapSession([]byte{1, 2, 3}, tls.ConnectionState{})
	require.NoError(t, err)
	assert.Nil(t, ss)

	c.Put("010203", []byte("garbage"))

	ss, err = c.UnwrapSession([]byte{1, 2, 3}, tls.ConnectionState{})
	require.NoError(t, err)
	assert.Nil(t, ss)
}

func TestCache_resumption(t *testing.T) {
	for _, version := range []uint16{tls.VersionTLS12, tls.VersionTLS13} {
		t.Run(tls.VersionName(version), func(t *testing.T) {
			c := ticket.New(0)

			srvConf, roots := newTLSConfig(t)
			srvConf.MinVersion = version
			srvConf.MaxVersion = version
			c.Configure(srvConf)

			l, err := tls.Listen("tcp", "127.0.0.1:0", srvConf)
			require.NoError(t, err)

			defer log.OnCloserError(l, log.DEBUG)

			go serveEcho(l)

			cliConf := &tls.Config{
				RootCAs:            roots,
				ServerName:         tlsServerName,
				ClientSessionCache: tls.NewLRUClientSessionCache(8),
				MinVersion:         version,
				MaxVersion:         version,
			}

			first := exchange(t, l.Addr().String(), cliConf)
			require.False(t, first.DidResume)
			require.GreaterOrEqual(t, c.Len(), 1)

			second := exchange(t, l.Addr().String(), cliConf)
			assert.True(t, second.DidResume)
		})
	}
}

// serveEcho echoes a single byte back on every accepted connection.
func serveEcho(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}

		go func() {
			defer log.OnCloserError(conn, log.DEBUG)

			buf := make([]byte, 1)
			if _, rErr := io.ReadFull(conn, buf); rErr != nil {
				return
			}

			_, _ = conn.Write(buf)
		}()
	}
}

// exchange connects to addr, sends and receives a byte, so that the session
// ticket is processed, and returns the connection state.
func exchange(t *testing.T, addr string, conf *tls.Config) (cs tls.ConnectionState) {
	t.Helper()

	conn, err := tls.Dial("tcp", addr, conf)
	require.NoError(t, err)

	defer log.OnCloserError(conn, log.DEBUG)

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte{1})
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	return conn.ConnectionState()
}

func newTLSConfig(t *testing.T) (conf *tls.Config, roots *x509.CertPool) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	require.NoError(t, err)

	notBefore := time.Now()
	notAfter := notBefore.Add(5 * 365 * time.Hour * 24)

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"AdGuard Tests"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{tlsServerName},
	}

	derBytes, err := x509.CreateCertificate(
		rand.Reader,
		&template,
		&template,
		&privateKey.PublicKey,
		privateKey,
	)
	require.NoError(t, err)

	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	cert, err := tls.X509KeyPair(certPem, keyPem)
	require.NoError(t, err)

	roots = x509.NewCertPool()
	roots.AppendCertsFromPEM(certPem)

	return &tls.Config{Certificates: []tls.Certificate{cert}}, roots
}
