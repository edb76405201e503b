package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/die-net/sockws/internal/socks5"
)

// ErrUnsupportedProxyScheme is returned by New for proxy URLs that are not
// socks5:// or socks5h://.
var ErrUnsupportedProxyScheme = fmt.Errorf("%w: unsupported proxy scheme", socks5.ErrProxyProtocol)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses proxy and constructs the appropriate outbound Dialer.
//
// Supported values:
//   - "" (no proxy, dial directly)
//   - socks5://[user:pass@]host:port (target resolved locally to IPv4)
//   - socks5h://[user:pass@]host:port (target resolved by the proxy)
//
// A missing proxy port defaults to 1080.
func New(cfg Config, proxy string) (Dialer, error) {
	if proxy == "" {
		return NewDirectDialer(cfg), nil
	}

	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid proxy url: path should be empty")
	}

	switch u.Scheme {
	case "":
		return nil, errors.New("invalid proxy url: missing scheme")
	case "socks5", "socks5h":
		host := u.Hostname()
		if host == "" {
			return nil, errors.New("invalid proxy url: missing host")
		}
		if u.Port() == "" {
			u.Host = net.JoinHostPort(host, "1080")
		}

		var auth socks5.Auth
		if u.User != nil {
			auth.Username = u.User.Username()
			auth.Password, _ = u.User.Password()
		}

		return NewSOCKS5ProxyDialer(cfg, u.Host, auth, u.Scheme == "socks5"), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxyScheme, u.Scheme)
	}
}
