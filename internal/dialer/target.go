package dialer

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Target describes the WebSocket endpoint taken from a ws:// or wss:// URL.
type Target struct {
	Host string
	Port uint16
	TLS  bool

	// RequestURI is the path and query to put in the upgrade request line.
	RequestURI string
}

// ParseTarget parses a ws:// or wss:// URL, applying the default port 80 or
// 443 when none is given.
func ParseTarget(rawURL string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("invalid url: %w", err)
	}

	var t Target
	switch u.Scheme {
	case "ws":
		t.Port = 80
	case "wss":
		t.TLS = true
		t.Port = 443
	default:
		return Target{}, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}

	t.Host = u.Hostname()
	if t.Host == "" {
		return Target{}, fmt.Errorf("invalid url: missing host")
	}

	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil || port == 0 {
			return Target{}, fmt.Errorf("invalid url port: %q", p)
		}
		t.Port = uint16(port)
	}

	t.RequestURI = u.RequestURI()
	return t, nil
}

// Address returns host:port suitable for DialContext.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// IsIP reports whether the host is a literal IPv4 or IPv6 address.
func (t Target) IsIP() bool {
	return net.ParseIP(t.Host) != nil
}
