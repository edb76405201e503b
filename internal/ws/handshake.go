package ws

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"maps"
	"net/textproto"
	"slices"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/die-net/sockws/internal/dialer"
)

const (
	websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// DefaultMaxHandshakeSize bounds the upgrade response header block.
	DefaultMaxHandshakeSize = 16 << 10

	// Messages are compressed and inflated one at a time, so no context is
	// carried between them in either direction.
	deflateOffer = "permessage-deflate; client_no_context_takeover; server_no_context_takeover"
)

var headerTerminator = []byte("\r\n\r\n")

// newKey returns a Sec-WebSocket-Key: 16 random bytes, base64 encoded.
func newKey(rand io.Reader) (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// buildRequest renders the upgrade request. Caller header names are
// lower-cased; when two differ only by case, the one sorting last wins. The
// upgrade headers always overwrite caller values. offerDeflate adds a
// permessage-deflate offer unless the caller supplied its own extensions.
func buildRequest(target dialer.Target, headers map[string]string, key string, offerDeflate bool) ([]byte, error) {
	merged := make(map[string]string, len(headers)+5)
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		v := headers[k]
		if !httpguts.ValidHeaderFieldName(k) {
			return nil, fmt.Errorf("invalid header name %q", k)
		}
		if !httpguts.ValidHeaderFieldValue(v) {
			return nil, fmt.Errorf("invalid value for header %q", k)
		}
		merged[strings.ToLower(k)] = v
	}
	if _, ok := merged["sec-websocket-extensions"]; offerDeflate && !ok {
		merged["sec-websocket-extensions"] = deflateOffer
	}

	host := target.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	forced := []struct{ k, v string }{
		{"host", host},
		{"upgrade", "websocket"},
		{"connection", "Upgrade"},
		{"sec-websocket-key", key},
		{"sec-websocket-version", "13"},
	}

	var b bytes.Buffer
	b.WriteString("GET ")
	b.WriteString(target.RequestURI)
	b.WriteString(" HTTP/1.1")
	for _, h := range forced {
		delete(merged, h.k)
		fmt.Fprintf(&b, "\r\n%s: %s", h.k, h.v)
	}
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		fmt.Fprintf(&b, "\r\n%s: %s", k, merged[k])
	}
	b.Write(headerTerminator)

	return b.Bytes(), nil
}

type handshakeResult struct {
	header   textproto.MIMEHeader
	deflate  bool
	leftover []byte
}

// readHandshake reads from r until the end of the response header block and
// validates it against key. Bytes received after the block are returned as
// leftover; they belong to the frame stream.
func readHandshake(r io.Reader, key string, maxSize int) (handshakeResult, error) {
	buf := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)

	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)

		if i := bytes.Index(buf, headerTerminator); i >= 0 {
			if i+len(headerTerminator) > maxSize {
				return handshakeResult{}, fmt.Errorf("%w: response header exceeds %d bytes", ErrHandshake, maxSize)
			}
			res, perr := parseHandshake(buf[:i+len(headerTerminator)], key)
			if perr != nil {
				return handshakeResult{}, perr
			}
			res.leftover = bytes.Clone(buf[i+len(headerTerminator):])
			return res, nil
		}
		if len(buf) > maxSize {
			return handshakeResult{}, fmt.Errorf("%w: response header exceeds %d bytes", ErrHandshake, maxSize)
		}

		if err != nil {
			if err == io.EOF {
				return handshakeResult{}, fmt.Errorf("%w: connection closed during handshake", ErrHandshake)
			}
			return handshakeResult{}, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
}

func parseHandshake(head []byte, key string) (handshakeResult, error) {
	line, rest, _ := bytes.Cut(head, []byte("\r\n"))
	status := string(line)
	if !strings.Contains(status, "101 Switching Protocols") {
		return handshakeResult{}, fmt.Errorf("%w: unexpected status %q", ErrHandshake, status)
	}

	header, err := textproto.NewReader(bufio.NewReader(bytes.NewReader(rest))).ReadMIMEHeader()
	if err != nil {
		return handshakeResult{}, fmt.Errorf("%w: malformed header: %w", ErrHandshake, err)
	}

	if got := header.Get("Sec-Websocket-Accept"); got != "" && got != acceptKey(key) {
		return handshakeResult{}, fmt.Errorf("%w: sec-websocket-accept mismatch", ErrHandshake)
	}

	res := handshakeResult{header: header}
	for _, v := range header.Values("Sec-Websocket-Extensions") {
		if strings.Contains(strings.ToLower(v), "permessage-deflate") {
			res.deflate = true
		}
	}
	return res, nil
}
