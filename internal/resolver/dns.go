package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DNS sends A queries to a single DNS server instead of the platform
// resolver.
type DNS struct {
	// Server is the host:port of the DNS server. A missing port defaults to 53.
	Server  string
	Timeout time.Duration
}

func (d DNS) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip, ok, err := literal(host); ok || err != nil {
		return ip, err
	}

	name, err := asciiHost(host)
	if err != nil {
		return nil, err
	}

	server := d.Server
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	c := &dns.Client{Net: "udp", Timeout: d.Timeout}
	in, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("lookup %s via %s: %w", host, server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("lookup %s via %s: %s", host, server, dns.RcodeToString[in.Rcode])
	}

	for _, ans := range in.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.To4(), nil
		}
	}
	return nil, fmt.Errorf("lookup %s via %s: %w", host, server, ErrNoIPv4)
}
