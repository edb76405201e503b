package ws

import (
	"crypto/rand"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/sockws/internal/dialer"
	"github.com/die-net/sockws/internal/logging"
	"github.com/die-net/sockws/internal/resolver"
)

// BinaryType selects how binary message payloads are handed to listeners.
type BinaryType int

const (
	// BinaryCopy hands listeners a copy of the payload that outlives the
	// callback. All listeners of one event share that copy.
	BinaryCopy BinaryType = iota
	// BinaryView hands out a slice of the read buffer where possible. It is
	// only valid until the listener returns.
	BinaryView
)

// DefaultMaxFrameSize bounds the declared payload length of a received frame.
const DefaultMaxFrameSize = 32 << 20

// Options configures a Conn. The zero value dials directly with default
// limits.
type Options struct {
	// Proxy is "", socks5://[user:pass@]host[:port] or
	// socks5h://[user:pass@]host[:port]. Ignored when Agent is set.
	Proxy string
	// Agent is the structured form of Proxy.
	Agent *Agent

	// Headers are added to the upgrade request. Names are lower-cased and
	// the upgrade headers themselves cannot be overridden.
	Headers map[string]string
	// Compression offers permessage-deflate in the upgrade request. Whether
	// it is used is decided by the server's response either way.
	Compression bool

	BinaryType BinaryType

	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
	TLSConfig          *tls.Config

	// CloseTimeout bounds the wait for the peer's close frame after Close.
	// Zero waits until the peer answers or drops the transport.
	CloseTimeout time.Duration

	// MaxHandshakeSize bounds the upgrade response header block. Zero means
	// DefaultMaxHandshakeSize.
	MaxHandshakeSize int
	// MaxFrameSize bounds received frame payloads. Zero means
	// DefaultMaxFrameSize; negative disables the bound.
	MaxFrameSize int64

	// Resolver resolves targets for socks5:// proxies. Nil means the
	// platform resolver.
	Resolver resolver.Resolver
	// Rand supplies handshake keys and mask keys. Nil means crypto/rand.
	Rand io.Reader

	Logger logrus.FieldLogger
}

// Agent describes a SOCKS5 proxy field by field. ShouldLookup selects local
// resolution of the target (socks5://); otherwise the proxy resolves it
// (socks5h://).
type Agent struct {
	ShouldLookup bool
	Proxy        AgentProxy
}

type AgentProxy struct {
	UserID   string
	Password string
	Host     string
	Port     int
}

// ProxyURLFromAgent renders a as a proxy URL accepted by Options.Proxy.
// Credentials are included only when UserID is set.
func ProxyURLFromAgent(a Agent) string {
	u := url.URL{
		Scheme: "socks5h",
		Host:   net.JoinHostPort(a.Proxy.Host, strconv.Itoa(a.Proxy.Port)),
	}
	if a.ShouldLookup {
		u.Scheme = "socks5"
	}
	if a.Proxy.UserID != "" {
		u.User = url.UserPassword(a.Proxy.UserID, a.Proxy.Password)
	}
	return u.String()
}

func (o Options) proxyURL() string {
	if o.Agent != nil {
		return ProxyURLFromAgent(*o.Agent)
	}
	return o.Proxy
}

func (o Options) dialerConfig() dialer.Config {
	return dialer.Config{
		DialTimeout:        o.DialTimeout,
		NegotiationTimeout: o.NegotiationTimeout,
		KeepAlive:          o.KeepAlive,
		TLSConfig:          o.TLSConfig,
		Resolver:           o.Resolver,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxHandshakeSize <= 0 {
		o.MaxHandshakeSize = DefaultMaxHandshakeSize
	}
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.Rand == nil {
		o.Rand = rand.Reader
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

func (o Options) maxPayload() uint64 {
	if o.MaxFrameSize < 0 {
		return 0
	}
	return uint64(o.MaxFrameSize)
}
