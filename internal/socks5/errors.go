package socks5

import (
	"errors"
	"fmt"
)

// ErrProxyProtocol is matched by every failure caused by the proxy's answers
// rather than by the transport underneath.
var ErrProxyProtocol = errors.New("socks5 protocol error")

var (
	// ErrNotSOCKS5 means the proxy's first reply did not carry version 5.
	ErrNotSOCKS5 = fmt.Errorf("%w: proxy did not answer as SOCKS5", ErrProxyProtocol)
	// ErrAuthRequired means the proxy wants username/password authentication
	// but no credentials were configured.
	ErrAuthRequired = fmt.Errorf("%w: proxy requires username/password authentication", ErrProxyProtocol)
	// ErrAuthRejected means the proxy refused the supplied credentials.
	ErrAuthRejected = fmt.Errorf("%w: proxy rejected credentials", ErrProxyProtocol)
	// ErrUnsupportedMethod means the proxy selected a method that was not offered.
	ErrUnsupportedMethod = fmt.Errorf("%w: unsupported authentication method", ErrProxyProtocol)
	// ErrConnectRejected means the proxy answered the CONNECT request with a
	// non-success reply. The concrete error is a *ReplyError.
	ErrConnectRejected = fmt.Errorf("%w: connect rejected", ErrProxyProtocol)
)

// ReplyError reports a CONNECT reply whose REP field was not success.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks5 connect rejected: %s (0x%02x)", replyText(e.Code), e.Code)
}

func (e *ReplyError) Unwrap() error {
	return ErrConnectRejected
}

func replyText(code byte) string {
	switch code {
	case 0x01:
		return "general server failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return "unknown reply"
	}
}
