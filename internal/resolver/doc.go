// Package resolver provides the IPv4 lookup capability used when a socks5://
// proxy requires the target host to be resolved before the CONNECT request.
//
// Implementations are injected into the dialer so tests can substitute fakes.
// System uses the platform resolver, DNS queries an explicit server with
// github.com/miekg/dns, and Cached puts a bounded TTL cache in front of either.
package resolver
