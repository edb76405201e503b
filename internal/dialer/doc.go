// Package dialer opens the byte stream a WebSocket connection runs over.
//
// A Dialer establishes raw TCP either directly or through a SOCKS5 proxy
// (socks5:// resolves the target locally, socks5h:// lets the proxy resolve
// it). Open layers TLS on top for wss targets, always verifying against the
// original host name regardless of how the tunnel addressed the target.
package dialer
