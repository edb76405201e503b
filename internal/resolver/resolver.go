package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/idna"
)

// ErrNoIPv4 is returned when a name resolves but has no IPv4 address.
var ErrNoIPv4 = errors.New("no IPv4 address")

// Resolver looks up the IPv4 address of a host name.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (net.IP, error)
}

// Func adapts an ordinary function to the Resolver interface.
type Func func(ctx context.Context, host string) (net.IP, error)

func (f Func) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	return f(ctx, host)
}

// System resolves through net.Resolver, i.e. the host platform's resolver.
type System struct {
	Resolver *net.Resolver
}

func (s System) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip, ok, err := literal(host); ok || err != nil {
		return ip, err
	}

	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	ips, err := r.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("lookup %s: %w", host, ErrNoIPv4)
}

// literal short-circuits hosts that are already IP addresses. ok is true when
// host was a literal; an IPv6 literal yields ErrNoIPv4.
func literal(host string) (net.IP, bool, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, false, nil
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4, true, nil
	}
	return nil, true, fmt.Errorf("lookup %s: %w", host, ErrNoIPv4)
}

func asciiHost(host string) (string, error) {
	h, err := idna.Punycode.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("encode host %q: %w", host, err)
	}
	return h, nil
}
