package dialer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Open connects to target through d. For TLS targets it then runs the TLS
// handshake using target.Host as the server name, so certificate checks do
// not depend on whether a proxy was handed a name or a resolved address.
// crypto/tls leaves SNI out for literal IP hosts.
func Open(ctx context.Context, d Dialer, cfg Config, target Target) (net.Conn, error) {
	c, err := d.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		return nil, err
	}
	if !target.TLS {
		return c, nil
	}

	var tlsCfg *tls.Config
	if cfg.TLSConfig != nil {
		tlsCfg = cfg.TLSConfig.Clone()
	} else {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = target.Host
	}

	tlsConn := tls.Client(c, tlsCfg)
	if cfg.NegotiationTimeout > 0 {
		_ = tlsConn.SetDeadline(time.Now().Add(cfg.NegotiationTimeout))
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", target.Host, err)
	}
	if cfg.NegotiationTimeout > 0 {
		_ = tlsConn.SetDeadline(time.Time{})
	}
	return tlsConn, nil
}
