package trust

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/dnsproxy/upstream"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/miekg/dns"
)

// Resolver resolves the hostname entries of a trust list.
type Resolver interface {
	// LookupHost returns the addresses of host.
	LookupHost(ctx context.Context, host string) (addrs []netip.Addr, err error)
}

// SystemResolver is a Resolver that uses the system resolver.
type SystemResolver struct {
	res *net.Resolver
}

// type check
var _ Resolver = (*SystemResolver)(nil)

// NewSystemResolver creates a new *SystemResolver.
func NewSystemResolver() (r *SystemResolver) {
	return &SystemResolver{
		res: &net.Resolver{},
	}
}

// LookupHost implements the Resolver interface for *SystemResolver.
func (r *SystemResolver) LookupHost(
	ctx context.Context,
	host string,
) (addrs []netip.Addr, err error) {
	return r.res.LookupNetIP(ctx, "ip", host)
}

// defaultUpstreamTimeout is the timeout for a single upstream exchange.
const defaultUpstreamTimeout = 5 * time.Second

// UpstreamResolver is a Resolver that sends A and AAAA queries to a DNS
// upstream.
type UpstreamResolver struct {
	ups upstream.Upstream
}

// type check
var _ Resolver = (*UpstreamResolver)(nil)

// NewUpstreamResolver creates a new *UpstreamResolver for the upstream with
// the specified address, e.g. "tls://dns.google".
func NewUpstreamResolver(addr string) (r *UpstreamResolver, err error) {
	ups, err := upstream.AddressToUpstream(addr, &upstream.Options{
		Timeout: defaultUpstreamTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating upstream %q: %w", addr, err)
	}

	return &UpstreamResolver{
		ups: ups,
	}, nil
}

// LookupHost implements the Resolver interface for *UpstreamResolver.  IPv4
// addresses come first.
func (r *UpstreamResolver) LookupHost(
	ctx context.Context,
	host string,
) (addrs []netip.Addr, err error) {
	var errs []error
	for _, qt := range []uint16{dns.TypeA, dns.TypeAAAA} {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var res []netip.Addr
		res, err = r.exchange(host, qt)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		addrs = append(addrs, res...)
	}

	if len(addrs) > 0 {
		return addrs, nil
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return nil, fmt.Errorf("no addresses for %q", host)
}

// exchange sends a single question of type qt for host.
func (r *UpstreamResolver) exchange(host string, qt uint16) (addrs []netip.Addr, err error) {
	req := &dns.Msg{}
	req.SetQuestion(dns.Fqdn(host), qt)
	req.RecursionDesired = true

	resp, err := r.ups.Exchange(req)
	if err != nil {
		return nil, fmt.Errorf("exchanging %s with %s: %w", dns.Type(qt), r.ups.Address(), err)
	}

	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s for %s: %s", dns.Type(qt), host, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}

		if addr, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}

	return addrs, nil
}

// Close releases the upstream connections.
func (r *UpstreamResolver) Close() (err error) {
	return r.ups.Close()
}
