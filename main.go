package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/die-net/sockws/internal/config"
	"github.com/die-net/sockws/internal/console"
	"github.com/die-net/sockws/internal/logging"
	"github.com/die-net/sockws/internal/resolver"
	"github.com/die-net/sockws/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		proxy       = pflag.String("proxy", defaultProxy(), "SOCKS5 proxy URL: socks5://[user:pass@]host[:port] resolves the target locally, socks5h:// lets the proxy resolve it. Empty dials directly.")
		headers     = pflag.StringArray("header", nil, "Extra upgrade request header as 'Name: value'. Repeatable.")
		compression = pflag.Bool("compression", true, "Offer permessage-deflate")
		insecure    = pflag.Bool("insecure", false, "Skip TLS certificate verification for wss:// URLs")

		dnsServer    = pflag.String("dns-server", "", "DNS server (host[:port]) used to resolve targets for socks5:// proxies. Empty uses the system resolver.")
		dnsCacheSize = pflag.Int("dns-cache-size", 0, "Number of resolved targets to cache. 0 disables caching.")
		dnsCacheTTL  = pflag.Duration("dns-cache-ttl", 5*time.Minute, "How long cached resolutions are used")

		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for SOCKS5, TLS and WebSocket negotiation")
		closeTimeout       = pflag.Duration("close-timeout", 5*time.Second, "How long to wait for the server's close frame. 0 waits forever.")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

		jsonMode   = pflag.Bool("json", false, "Only send input lines that are valid JSON and flag received text that is not")
		noColor    = pflag.Bool("no-color", false, "Disable colored output")
		logLevel   = pflag.String("log-level", "warn", "Log level: trace|debug|info|warn|error")
		logFormat  = pflag.String("log-format", "text", "Log format: text|json")
		configPath = pflag.String("config", "", "YAML file with url, proxy, agent, headers and other settings. Flags override it.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] ws[s]://host[:port]/path\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	file := &config.File{}
	if *configPath != "" {
		var err error
		if file, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	setString(proxy, "proxy", file.Proxy)
	setBool(compression, "compression", file.Compression)
	setString(dnsServer, "dns-server", file.DNSServer)
	setInt(dnsCacheSize, "dns-cache-size", file.DNSCacheSize)
	setDuration(dialTimeout, "dial-timeout", file.DialTimeout)
	setDuration(negotiationTimeout, "negotiation-timeout", file.NegotiationTimeout)
	setDuration(closeTimeout, "close-timeout", file.CloseTimeout)
	setString(logLevel, "log-level", file.LogLevel)
	setString(logFormat, "log-format", file.LogFormat)

	url := pflag.Arg(0)
	if url == "" {
		url = file.URL
	}
	if url == "" || pflag.NArg() > 1 {
		pflag.Usage()
		return errors.New("exactly one WebSocket URL is required")
	}

	logger, err := logging.New(*logLevel, *logFormat, os.Stderr)
	if err != nil {
		return err
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	hdrs, err := parseHeaders(file.Headers, *headers)
	if err != nil {
		return fmt.Errorf("invalid --header: %w", err)
	}

	res, err := newResolver(*dnsServer, *dnsCacheSize, *dnsCacheTTL, *dialTimeout)
	if err != nil {
		return err
	}

	opts := ws.Options{
		Proxy:              *proxy,
		Headers:            hdrs,
		Compression:        *compression,
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		CloseTimeout:       *closeTimeout,
		KeepAlive:          ka,
		Resolver:           res,
		Logger:             logger,
	}
	if !pflag.CommandLine.Changed("proxy") {
		opts.Agent = file.WSAgent()
	}
	if *insecure {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Explicitly requested.
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lr, err := console.NewLineReader(os.Stdin, os.Stdout, "> ")
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer lr.Close()

	printer := console.NewPrinter(lr.Writer(), *noColor, *jsonMode)

	c := ws.New(url, opts)
	for _, kind := range []ws.EventKind{ws.EventOpen, ws.EventMessage, ws.EventError, ws.EventClose, ws.EventPing, ws.EventPong} {
		c.AddListener(kind, printer.Event)
	}

	if err := c.Connect(ctx); err != nil {
		// The error event has already been printed.
		return errors.New("connection failed")
	}

	go readInput(c, lr, printer, *jsonMode, logger)

	select {
	case <-c.Done():
	case <-ctx.Done():
		// A second signal terminates immediately.
		stop()
		_ = c.Close(ws.CloseNormal, "")
		<-c.Done()
	}

	logger.Info("Shutting down")
	return nil
}

// readInput turns input lines into WebSocket operations until input ends,
// which closes the connection normally.
func readInput(c *ws.Conn, lr console.LineReader, printer *console.Printer, jsonMode bool, logger logrus.FieldLogger) {
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.WithError(err).Warn("Reading input failed")
			}
			_ = c.Close(ws.CloseNormal, "")
			return
		}

		cmd, err := console.Parse(line)
		if errors.Is(err, console.ErrEmpty) {
			continue
		}
		if err != nil {
			printer.Errorf("%v", err)
			continue
		}
		if jsonMode && cmd.Op == console.OpText && !console.ValidJSON(cmd.Data) {
			printer.Errorf("not sent: input is not valid JSON")
			continue
		}

		if err := cmd.Apply(c); err != nil {
			printer.Errorf("%s: %v", cmd, err)
			if errors.Is(err, ws.ErrNotOpen) && c.State() == ws.StateClosed {
				return
			}
			continue
		}
		printer.Sent("%s", cmd)
	}
}

func newResolver(server string, cacheSize int, cacheTTL, timeout time.Duration) (resolver.Resolver, error) {
	var r resolver.Resolver = resolver.System{}
	if server != "" {
		r = resolver.DNS{Server: server, Timeout: timeout}
	}
	if cacheSize > 0 {
		cached, err := resolver.NewCached(r, cacheSize, cacheTTL)
		if err != nil {
			return nil, fmt.Errorf("dns cache: %w", err)
		}
		r = cached
	}
	return r, nil
}

// parseHeaders merges config file headers with "Name: value" flag values,
// the flags taking precedence.
func parseHeaders(base map[string]string, values []string) (map[string]string, error) {
	out := make(map[string]string, len(base)+len(values))
	for k, v := range base {
		out[k] = v
	}
	for _, hv := range values {
		name, value, ok := strings.Cut(hv, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%q: expected 'Name: value'", hv)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

func setString(dst *string, flag, v string) {
	if v != "" && !pflag.CommandLine.Changed(flag) {
		*dst = v
	}
}

func setInt(dst *int, flag string, v int) {
	if v != 0 && !pflag.CommandLine.Changed(flag) {
		*dst = v
	}
}

func setBool(dst *bool, flag string, v *bool) {
	if v != nil && !pflag.CommandLine.Changed(flag) {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, flag string, v time.Duration) {
	if v != 0 && !pflag.CommandLine.Changed(flag) {
		*dst = v
	}
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

// defaultProxy honors ALL_PROXY like curl does. Only SOCKS5 values are
// usable; anything else is reported when connecting.
func defaultProxy() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}
	return os.Getenv("all_proxy")
}
