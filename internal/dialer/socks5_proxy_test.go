package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/die-net/sockws/internal/resolver"
	"github.com/die-net/sockws/internal/socks5"
	"github.com/die-net/sockws/internal/testutil"
)

func TestSOCKS5ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name string
		auth socks5.Auth
	}{
		{name: "no_auth"},
		{name: "user_pass", auth: socks5.Auth{Username: "user", Password: "pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			proxy := testutil.StartSOCKS5Proxy(t, ctx, tt.auth, nil)

			f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, proxy.Addr(), tt.auth, false)

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
		})
	}
}

func TestSOCKS5ProxyDialerAuthFailures(t *testing.T) {
	tests := []struct {
		name string
		auth socks5.Auth
		want error
	}{
		{name: "no_credentials", want: socks5.ErrAuthRequired},
		{name: "wrong_password", auth: socks5.Auth{Username: "user", Password: "wrong"}, want: socks5.ErrAuthRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			proxy := testutil.StartSOCKS5Proxy(t, ctx, socks5.Auth{Username: "user", Password: "pass"}, nil)
			f := NewSOCKS5ProxyDialer(Config{}, proxy.Addr(), tt.auth, false)

			_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
			if n := len(proxy.Requests()); n != 0 {
				t.Fatalf("proxy saw %d CONNECT requests, want 0", n)
			}
		})
	}
}

func TestSOCKS5ProxyDialerDialContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lc := net.ListenConfig{}
	upLn, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upLn.Close()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		c, err := upLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		_, _ = io.Copy(io.Discard, c)
	}()

	f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), socks5.Auth{}, false)

	_, err = f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected error")
	}

	_ = upLn.Close()
	<-acceptDone
}

func TestSOCKS5ProxyDialerHungProxyTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		// Read the greeting and never answer.
		_, _ = io.Copy(io.Discard, c)
	})

	f := NewSOCKS5ProxyDialer(Config{NegotiationTimeout: 100 * time.Millisecond}, upLn.Addr().String(), socks5.Auth{}, false)

	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("err=%v want timeout", err)
	}

	waitUp()
}

func TestSOCKS5ProxyDialerDialFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if err := socks5.ServerNegotiate(c, socks5.Auth{}); err != nil {
			return
		}
		req, err := socks5.ServerReadRequest(c)
		if err != nil {
			return
		}
		socks5.WriteFailureReply(c, 0x05, req.Atyp)
	})

	f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), socks5.Auth{}, false)

	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if !errors.Is(err, socks5.ErrConnectRejected) {
		t.Fatalf("err=%v want %v", err, socks5.ErrConnectRejected)
	}

	waitUp()
}

func TestSOCKS5ProxyDialerAddressing(t *testing.T) {
	tests := []struct {
		name           string
		host           string
		resolveLocally bool
		wantAtyp       byte
		wantHost       string
		wantLookups    int32
	}{
		{name: "socks5h sends domain", host: "echo.test", wantAtyp: socks5.ATYPDomain, wantHost: "echo.test"},
		{name: "socks5h sends literal ip as domain", host: "127.0.0.1", wantAtyp: socks5.ATYPDomain, wantHost: "127.0.0.1"},
		{name: "socks5 resolves locally", host: "echo.test", resolveLocally: true, wantAtyp: socks5.ATYPIPv4, wantHost: "127.0.0.1", wantLookups: 1},
		{name: "socks5 literal ip skips lookup", host: "127.0.0.1", resolveLocally: true, wantAtyp: socks5.ATYPIPv4, wantHost: "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()
			_, echoPort, _ := net.SplitHostPort(echoLn.Addr().String())

			proxy := testutil.StartSOCKS5Proxy(t, ctx, socks5.Auth{}, func(string) string {
				return echoLn.Addr().String()
			})

			var lookups atomic.Int32
			res := resolver.Func(func(ctx context.Context, host string) (net.IP, error) {
				lookups.Add(1)
				if host != "echo.test" {
					return nil, errors.New("unexpected host " + host)
				}
				return net.IPv4(127, 0, 0, 1), nil
			})

			f := NewSOCKS5ProxyDialer(Config{Resolver: res}, proxy.Addr(), socks5.Auth{}, tt.resolveLocally)

			conn, err := f.DialContext(ctx, "tcp", net.JoinHostPort(tt.host, echoPort))
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))

			if got := lookups.Load(); got != tt.wantLookups {
				t.Fatalf("lookups %d want %d", got, tt.wantLookups)
			}

			reqs := proxy.Requests()
			if len(reqs) != 1 {
				t.Fatalf("got %d requests", len(reqs))
			}
			if reqs[0].Atyp != tt.wantAtyp {
				t.Fatalf("atyp %d want %d", reqs[0].Atyp, tt.wantAtyp)
			}
			wantAddr := net.JoinHostPort(tt.wantHost, echoPort)
			if reqs[0].Address != wantAddr {
				t.Fatalf("address %q want %q", reqs[0].Address, wantAddr)
			}
		})
	}
}

func TestSOCKS5ProxyDialerResolveFailure(t *testing.T) {
	res := resolver.Func(func(ctx context.Context, host string) (net.IP, error) {
		return nil, resolver.ErrNoIPv4
	})

	// Nothing listens on the proxy address; resolution must fail first.
	f := NewSOCKS5ProxyDialer(Config{Resolver: res}, "127.0.0.1:1", socks5.Auth{}, true)

	_, err := f.DialContext(context.Background(), "tcp", "nowhere.test:80")
	if !errors.Is(err, resolver.ErrNoIPv4) {
		t.Fatalf("err=%v want %v", err, resolver.ErrNoIPv4)
	}
}

func TestOpenTLSThroughProxyVerifiesOriginalHost(t *testing.T) {
	for _, resolveLocally := range []bool{false, true} {
		t.Run("resolve_locally="+strconv.FormatBool(resolveLocally), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "ok")
			}))
			defer srv.Close()

			_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
			portNum, _ := strconv.Atoi(port)

			proxy := testutil.StartSOCKS5Proxy(t, ctx, socks5.Auth{}, func(string) string {
				return srv.Listener.Addr().String()
			})

			roots := x509.NewCertPool()
			roots.AddCert(srv.Certificate())

			cfg := Config{
				TLSConfig: &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12},
				Resolver: resolver.Func(func(ctx context.Context, host string) (net.IP, error) {
					return net.IPv4(127, 0, 0, 1), nil
				}),
			}
			d := NewSOCKS5ProxyDialer(cfg, proxy.Addr(), socks5.Auth{}, resolveLocally)

			// httptest certificates are issued for example.com.
			target := Target{Host: "example.com", Port: uint16(portNum), TLS: true, RequestURI: "/"}
			conn, err := Open(ctx, d, cfg, target)
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
			req.Close = true
			if err := req.Write(conn); err != nil {
				t.Fatal(err)
			}
			resp, err := http.ReadResponse(bufio.NewReader(conn), req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if string(body) != "ok" {
				t.Fatalf("body %q", body)
			}
		})
	}
}

func TestOpenDirectPlain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()
	_, port, _ := net.SplitHostPort(echoLn.Addr().String())
	portNum, _ := strconv.Atoi(port)

	cfg := Config{DialTimeout: time.Second}
	conn, err := Open(ctx, NewDirectDialer(cfg), cfg, Target{Host: "127.0.0.1", Port: uint16(portNum)})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
}
