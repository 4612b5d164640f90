package hostresolver

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/services"
	"github.com/csmith/mydnshost-api/internal/testutil"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreResolver(t *testing.T) {
	repo := testutil.NewMemoryRepo()
	d := repo.AddDomain(domain.Domain{Name: "example.com"})
	repo.AddRecord(d.ID, domain.Record{Name: "example.com", Type: domain.TypeNS, Content: "ns1.example.com"})
	repo.AddRecord(d.ID, domain.Record{Name: "ns1.example.com", Type: domain.TypeA, Content: "203.0.113.5"})
	repo.AddRecord(d.ID, domain.Record{Name: "ns1.example.com", Type: domain.TypeAAAA, Content: "2001:db8::5"})
	repo.AddRecord(d.ID, domain.Record{Name: "ns1.example.com", Type: domain.TypeTXT, Content: "not an address"})

	sub := repo.AddDomain(domain.Domain{Name: "dept.example.com"})
	repo.AddRecord(sub.ID, domain.Record{Name: "ns1.dept.example.com", Type: domain.TypeA, Content: "198.51.100.7"})

	repo.AddDomain(domain.Domain{Name: "off.example", Disabled: true})

	r := NewStoreResolver(repo, services.NewRecordResolver(repo, nil))
	ctx := context.Background()

	ips, err := r.LookupHost(ctx, "NS1.example.com.")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "203.0.113.5", ips[0].String())
	assert.Equal(t, "2001:db8::5", ips[1].String())

	// The most specific stored domain wins.
	ips, err = r.LookupHost(ctx, "ns1.dept.example.com")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, "198.51.100.7", ips[0].String())

	ips, err = r.LookupHost(ctx, "ns.off.example")
	require.NoError(t, err)
	assert.Empty(t, ips)

	ips, err = r.LookupHost(ctx, "ns1.elsewhere.test")
	require.NoError(t, err)
	assert.Empty(t, ips)
}

func startServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	var queries atomic.Int32
	addr := startServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		queries.Add(1)
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		if q.Name == "ns1.example.net." {
			switch q.Qtype {
			case dns.TypeA:
				rr, _ := dns.NewRR("ns1.example.net. 300 IN A 192.0.2.53")
				m.Answer = append(m.Answer, rr)
			case dns.TypeAAAA:
				rr, _ := dns.NewRR("ns1.example.net. 300 IN AAAA 2001:db8::53")
				m.Answer = append(m.Answer, rr)
			}
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	r := NewDNSResolver(addr, time.Second, nil)
	ctx := context.Background()

	ips, err := r.LookupHost(ctx, "NS1.example.net")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "192.0.2.53", ips[0].String())
	assert.Equal(t, "2001:db8::53", ips[1].String())
	assert.Equal(t, int32(2), queries.Load())

	ips, err = r.LookupHost(ctx, "missing.example.net")
	require.NoError(t, err)
	assert.Empty(t, ips)
}

func TestDNSResolver_ServerFailure(t *testing.T) {
	addr := startServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeServerFailure)
		_ = w.WriteMsg(m)
	})

	_, err := NewDNSResolver(addr, time.Second, nil).LookupHost(context.Background(), "ns1.example.net")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVFAIL")
}

func TestDNSResolver_DefaultPort(t *testing.T) {
	r := NewDNSResolver("192.0.2.1", time.Second, nil)
	assert.Equal(t, "192.0.2.1:53", r.server)
}

type stubResolver struct {
	mu    sync.Mutex
	ips   []net.IP
	err   error
	calls int
}

func (s *stubResolver) LookupHost(context.Context, string) ([]net.IP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.ips, s.err
}

func TestChain(t *testing.T) {
	empty := &stubResolver{}
	failing := &stubResolver{err: errors.New("upstream down")}
	good := &stubResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}}
	never := &stubResolver{ips: []net.IP{net.ParseIP("192.0.2.2")}}

	ips, err := Chain{empty, failing, good, never}.LookupHost(context.Background(), "ns1.example.com")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ips[0].String())
	assert.Equal(t, 0, never.calls)

	_, err = Chain{empty, failing}.LookupHost(context.Background(), "ns1.example.com")
	assert.EqualError(t, err, "upstream down")

	ips, err = Chain{empty}.LookupHost(context.Background(), "ns1.example.com")
	assert.NoError(t, err)
	assert.Empty(t, ips)
}
