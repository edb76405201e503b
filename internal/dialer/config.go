package dialer

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/die-net/sockws/internal/resolver"
)

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// TLSConfig is cloned for every wss connection. Nil means a default
	// verifying configuration.
	TLSConfig *tls.Config

	// Resolver is used by socks5:// proxies to resolve the target locally.
	// Nil means the platform resolver.
	Resolver resolver.Resolver
}

func (c Config) resolver() resolver.Resolver {
	if c.Resolver == nil {
		return resolver.System{}
	}
	return c.Resolver
}
