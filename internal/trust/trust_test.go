package trust_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/ameshkov/webrelay/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver is a trust.Resolver for tests.
type fakeResolver struct {
	addrs []netip.Addr
	err   error

	mu    *sync.Mutex
	hosts []string
}

// type check
var _ trust.Resolver = (*fakeResolver)(nil)

// LookupHost implements the trust.Resolver interface for *fakeResolver.
func (r *fakeResolver) LookupHost(_ context.Context, host string) (addrs []netip.Addr, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hosts = append(r.hosts, host)

	return r.addrs, r.err
}

func (r *fakeResolver) lookedUp() (hosts []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.hosts...)
}

func TestConfig_Trusts(t *testing.T) {
	testCases := []struct {
		conf *trust.Config
		name string
		peer string
		want bool
	}{{
		conf: trust.Disabled(),
		name: "disabled",
		peer: "10.0.0.1",
		want: false,
	}, {
		conf: nil,
		name: "nil",
		peer: "10.0.0.1",
		want: false,
	}, {
		conf: trust.TrustAll(),
		name: "trust_all",
		peer: "203.0.113.1",
		want: true,
	}, {
		conf: trust.TrustAll(),
		name: "trust_all_empty_peer",
		peer: "",
		want: true,
	}, {
		conf: trust.List("10.0.0.1", "10.0.0.2"),
		name: "list_match",
		peer: "10.0.0.2",
		want: true,
	}, {
		conf: trust.List("10.0.0.1"),
		name: "list_no_match",
		peer: "10.0.0.10",
		want: false,
	}, {
		conf: trust.List("10.0.0.1"),
		name: "list_no_prefix_match",
		peer: "10.0.0.1:80",
		want: false,
	}, {
		conf: trust.List(),
		name: "empty_list",
		peer: "10.0.0.1",
		want: false,
	}, {
		conf: trust.List("proxy.example"),
		name: "unresolved_host",
		peer: "10.0.0.1",
		want: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.conf.Trusts(tc.peer))

			m := trust.NewMatcher(tc.conf, &fakeResolver{mu: &sync.Mutex{}})
			assert.Equal(t, tc.want, m.IsTrustedPeer(tc.peer))
		})
	}
}

func TestMatcher_Refine(t *testing.T) {
	const host = "proxy.example"

	r := &fakeResolver{
		addrs: []netip.Addr{
			netip.MustParseAddr("::ffff:192.0.2.10"),
			netip.MustParseAddr("192.0.2.11"),
		},
		mu: &sync.Mutex{},
	}

	m := trust.NewMatcher(trust.List(host), r)
	require.False(t, m.IsTrustedPeer("192.0.2.10"))

	<-m.Refine(context.Background())

	assert.Equal(t, []string{host}, r.lookedUp())
	assert.True(t, m.IsTrustedPeer("192.0.2.10"))
	assert.False(t, m.IsTrustedPeer("192.0.2.11"))
	assert.False(t, m.IsTrustedPeer(host))
	assert.Equal(t, []string{"192.0.2.10"}, m.Config().Entries())
}

func TestMatcher_Refine_failure(t *testing.T) {
	const host = "proxy.example"

	r := &fakeResolver{
		err: errors.Error("test error"),
		mu:  &sync.Mutex{},
	}

	m := trust.NewMatcher(trust.List(host), r)
	<-m.Refine(context.Background())

	assert.Equal(t, []string{host}, r.lookedUp())
	assert.False(t, m.IsTrustedPeer("192.0.2.10"))
	assert.Equal(t, []string{host}, m.Config().Entries())
	assert.Len(t, r.lookedUp(), 1)
}

func TestMatcher_Refine_empty(t *testing.T) {
	r := &fakeResolver{mu: &sync.Mutex{}}

	m := trust.NewMatcher(trust.List("proxy.example"), r)
	<-m.Refine(context.Background())

	assert.False(t, m.IsTrustedPeer(""))
	assert.Equal(t, []string{"proxy.example"}, m.Config().Entries())
}

func TestMatcher_Refine_noop(t *testing.T) {
	testCases := []struct {
		conf *trust.Config
		name string
	}{{
		conf: trust.Disabled(),
		name: "disabled",
	}, {
		conf: trust.TrustAll(),
		name: "trust_all",
	}, {
		conf: trust.List("192.0.2.1"),
		name: "single_ip",
	}, {
		conf: trust.List("2001:db8::1"),
		name: "single_ipv6",
	}, {
		conf: trust.List("a.example", "b.example"),
		name: "two_hosts",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeResolver{mu: &sync.Mutex{}}
			m := trust.NewMatcher(tc.conf, r)

			<-m.Refine(context.Background())

			assert.Empty(t, r.lookedUp())
			assert.Same(t, tc.conf, m.Config())
		})
	}
}

func TestAnyOf(t *testing.T) {
	proxies := trust.NewMatcher(trust.List("10.0.0.1"), nil)
	offload := trust.NewMatcher(trust.List("10.0.0.2"), nil)

	a := trust.AnyOf{proxies, nil, offload}

	assert.True(t, a.IsTrustedPeer("10.0.0.1"))
	assert.True(t, a.IsTrustedPeer("10.0.0.2"))
	assert.False(t, a.IsTrustedPeer("10.0.0.3"))
	assert.False(t, trust.AnyOf(nil).IsTrustedPeer("10.0.0.1"))
}

func TestAnyOf_Refine(t *testing.T) {
	r := &fakeResolver{
		addrs: []netip.Addr{netip.MustParseAddr("192.0.2.10")},
		mu:    &sync.Mutex{},
	}

	a := trust.AnyOf{
		trust.NewMatcher(trust.List("10.0.0.1"), r),
		nil,
		trust.NewMatcher(trust.List("offload.example"), r),
	}

	<-a.Refine(context.Background())

	assert.Equal(t, []string{"offload.example"}, r.lookedUp())
	assert.True(t, a.IsTrustedPeer("10.0.0.1"))
	assert.True(t, a.IsTrustedPeer("192.0.2.10"))

	<-trust.AnyOf(nil).Refine(context.Background())
}
