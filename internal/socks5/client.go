package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/net/idna"
)

// Target is the destination a CONNECT request asks the proxy to reach.
//
// A literal IPv4 or IPv6 Host is sent with the matching address type; any
// other Host is sent as a domain name for the proxy to resolve. Domain sends
// Host as a domain name even when it is a literal address, which is how
// socks5h hands every target to the proxy.
type Target struct {
	Host   string
	Port   uint16
	Domain bool
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// ClientDial runs method negotiation, optional authentication and CONNECT on
// conn. On success conn is positioned at the first byte of tunneled data.
func ClientDial(conn io.ReadWriter, auth Auth, target Target) error {
	if err := ClientNegotiate(conn, auth); err != nil {
		return err
	}
	if err := ClientConnect(conn, target); err != nil {
		return err
	}
	return nil
}

// ClientNegotiate offers no-auth, plus username/password when both a username
// and a password are configured, and completes whichever method the proxy
// selects.
func ClientNegotiate(conn io.ReadWriter, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.complete() {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		if errors.Is(err, txsocks5.ErrVersion) {
			return ErrNotSOCKS5
		}
		return fmt.Errorf("read negotiation: %w", err)
	}
	if neg.Ver != version {
		return ErrNotSOCKS5
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if !auth.complete() {
			return ErrAuthRequired
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return ErrAuthRejected
		}
		return nil
	case methodNoAcceptable:
		// RFC 1928: none of the offered methods were acceptable. With only
		// no-auth on offer that means the proxy wants credentials.
		if !auth.complete() {
			return ErrAuthRequired
		}
		return fmt.Errorf("%w: proxy accepted none of the offered methods", ErrUnsupportedMethod)
	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnsupportedMethod, neg.Method)
	}
}

// ClientConnect sends a CONNECT request for target and reads the complete
// reply, including the bound address, so nothing of it is left in conn.
func ClientConnect(conn io.ReadWriter, target Target) error {
	req, err := connectRequest(target)
	if err != nil {
		return err
	}

	if _, err := req.WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		if errors.Is(err, txsocks5.ErrVersion) {
			return ErrNotSOCKS5
		}
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ReplyError{Code: rep.Rep}
	}
	return nil
}

func connectRequest(target Target) (*txsocks5.Request, error) {
	port := make([]byte, 2)
	binary.BigEndian.PutUint16(port, target.Port)

	if ip := net.ParseIP(target.Host); ip != nil && !target.Domain {
		if ip4 := ip.To4(); ip4 != nil {
			return txsocks5.NewRequest(txsocks5.CmdConnect, txsocks5.ATYPIPv4, ip4, port), nil
		}
		return txsocks5.NewRequest(txsocks5.CmdConnect, txsocks5.ATYPIPv6, ip.To16(), port), nil
	}

	host := target.Host
	if net.ParseIP(host) == nil {
		var err error
		if host, err = idna.Punycode.ToASCII(host); err != nil {
			return nil, fmt.Errorf("encode domain %q: %w", target.Host, err)
		}
	}
	if host == "" || len(host) > 255 {
		return nil, fmt.Errorf("invalid domain length %d for %q", len(host), target.Host)
	}

	// NewRequest adds the length prefix for domain addresses.
	return txsocks5.NewRequest(txsocks5.CmdConnect, txsocks5.ATYPDomain, []byte(host), port), nil
}
