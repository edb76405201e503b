package dialer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/die-net/sockws/internal/socks5"
)

// SOCKS5ProxyDialer dials outbound TCP connections through a SOCKS5 proxy.
type SOCKS5ProxyDialer struct {
	cfg            Config
	proxyAddr      string
	auth           socks5.Auth
	resolveLocally bool
	direct         Dialer
}

// NewSOCKS5ProxyDialer constructs a dialer for the proxy at proxyAddr. When
// resolveLocally is set, host names are resolved to IPv4 through
// cfg.Resolver before the CONNECT request; otherwise they are sent to the
// proxy as domain names.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr string, auth socks5.Auth, resolveLocally bool) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:            cfg,
		proxyAddr:      proxyAddr,
		auth:           auth,
		resolveLocally: resolveLocally,
		direct:         NewDirectDialer(cfg),
	}
}

// ProxyAddr returns the proxy host:port.
func (f *SOCKS5ProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// ResolvesLocally reports whether this is a socks5:// (as opposed to
// socks5h://) dialer.
func (f *SOCKS5ProxyDialer) ResolvesLocally() bool {
	return f.resolveLocally
}

// DialContext establishes a TCP connection to address via the proxy. The SOCKS
// negotiation is complete when it returns, so the connection is positioned at
// the first byte of tunneled data.
//
// If NegotiationTimeout is set, a deadline is applied during negotiation and
// cleared before returning. Canceling ctx aborts a negotiation in progress.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s: invalid port: %w", address, err)
	}

	if f.resolveLocally && net.ParseIP(host) == nil {
		ip, err := f.cfg.resolver().LookupIPv4(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy resolve: %w", err)
		}
		host = ip.String()
	}

	c, err := f.direct.DialContext(ctx, network, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})

	err = socks5.ClientDial(c, f.auth, socks5.Target{Host: host, Port: uint16(port), Domain: !f.resolveLocally})
	if !stop() || ctx.Err() != nil {
		_ = c.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, err)
	}
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, err)
	}

	_ = c.SetDeadline(time.Time{})
	return c, nil
}
