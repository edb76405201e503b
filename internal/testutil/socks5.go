package testutil

import (
	"context"
	"net"
	"sync"
	"testing"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/sockws/internal/socks5"
)

// SOCKS5Request is a CONNECT request seen by SOCKS5Proxy.
type SOCKS5Request struct {
	Atyp    byte
	Address string
}

// SOCKS5Proxy is a minimal SOCKS5 proxy for tests. It records every CONNECT
// request and relays accepted connections.
type SOCKS5Proxy struct {
	ln    net.Listener
	auth  socks5.Auth
	route func(address string) string

	mu       sync.Mutex
	requests []SOCKS5Request
	wg       sync.WaitGroup
}

// StartSOCKS5Proxy listens on a loopback port. A non-empty auth.Username makes
// username/password authentication mandatory. route maps the requested
// address to the one actually dialed; nil dials the requested address.
func StartSOCKS5Proxy(t *testing.T, ctx context.Context, auth socks5.Auth, route func(string) string) *SOCKS5Proxy {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	p := &SOCKS5Proxy{ln: ln, auth: auth, route: route}
	p.wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			p.wg.Go(func() {
				p.handle(ctx, c)
			})
		}
	})

	t.Cleanup(func() {
		_ = ln.Close()
		p.wg.Wait()
	})
	return p
}

// Addr returns the proxy's host:port.
func (p *SOCKS5Proxy) Addr() string {
	return p.ln.Addr().String()
}

// Requests returns the CONNECT requests received so far.
func (p *SOCKS5Proxy) Requests() []SOCKS5Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SOCKS5Request(nil), p.requests...)
}

func (p *SOCKS5Proxy) handle(ctx context.Context, c net.Conn) {
	defer c.Close()

	if err := socks5.ServerNegotiate(c, p.auth); err != nil {
		return
	}

	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return
	}

	p.mu.Lock()
	p.requests = append(p.requests, SOCKS5Request{Atyp: req.Atyp, Address: req.Address()})
	p.mu.Unlock()

	if req.Cmd != socks5.CmdConnect {
		socks5.WriteFailureReply(c, txsocks5.RepCommandNotSupported, req.Atyp)
		return
	}

	addr := req.Address()
	if p.route != nil {
		addr = p.route(addr)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		socks5.WriteFailureReply(c, txsocks5.RepHostUnreachable, req.Atyp)
		return
	}

	if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		_ = dst.Close()
		return
	}

	_ = Relay(ctx, c, dst)
}
