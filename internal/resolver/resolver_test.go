package resolver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDNSServer(t *testing.T, records map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			q := r.Question[0]
			ip, ok := records[q.Name]
			if !ok || q.Qtype != dns.TypeA {
				m.SetRcode(r, dns.RcodeNameError)
				_ = w.WriteMsg(m)
				return
			}
			m.SetReply(r)
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(ip),
			})
			_ = w.WriteMsg(m)
		}),
	}

	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSLookupIPv4(t *testing.T) {
	addr := startDNSServer(t, map[string]string{"ws.example.": "10.1.2.3"})
	r := DNS{Server: addr, Timeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ip, err := r.LookupIPv4(ctx, "ws.example")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip.String())
	assert.Len(t, ip, net.IPv4len)

	_, err = r.LookupIPv4(ctx, "missing.example")
	assert.Error(t, err)
}

func TestLiteralHostsSkipLookup(t *testing.T) {
	// An unroutable server proves no query is sent.
	r := DNS{Server: "192.0.2.1:53", Timeout: time.Millisecond}

	ip, err := r.LookupIPv4(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip.String())

	_, err = r.LookupIPv4(context.Background(), "::1")
	assert.ErrorIs(t, err, ErrNoIPv4)

	ip, err = System{}.LookupIPv4(context.Background(), "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ip.String())
}

func TestCachedLookup(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(ctx context.Context, host string) (net.IP, error) {
		calls.Add(1)
		return net.IPv4(10, 0, 0, byte(calls.Load())).To4(), nil
	})

	c, err := NewCached(next, 8, time.Minute)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	ip, err := c.LookupIPv4(context.Background(), "a.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip.String())

	ip, err = c.LookupIPv4(context.Background(), "a.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip.String())
	assert.EqualValues(t, 1, calls.Load())

	now = now.Add(2 * time.Minute)
	ip, err = c.LookupIPv4(context.Background(), "a.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip.String())
	assert.EqualValues(t, 2, calls.Load())
}

func TestNewCachedRejectsZeroSize(t *testing.T) {
	_, err := NewCached(System{}, 0, time.Minute)
	assert.Error(t, err)
}
