// Package socks5 implements the client side of the SOCKS5 tunnel handshake
// (RFC 1928 method negotiation, RFC 1929 username/password authentication and
// the CONNECT request) used to reach WebSocket servers through a proxy.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 so the
// negotiation, authentication and CONNECT steps each fail with their own
// error, which callers can tell apart with errors.Is.
//
// A few server-side helpers are kept alongside the client so tests can stand up
// a minimal proxy speaking the same wire format.
package socks5
