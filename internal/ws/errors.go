package ws

import "errors"

var (
	// ErrTransport wraps failures of the underlying stream: connection
	// refused or reset, DNS failures and write errors.
	ErrTransport = errors.New("websocket transport error")
	// ErrHandshake is returned when the upgrade response is not a valid
	// "101 Switching Protocols" answer.
	ErrHandshake = errors.New("websocket handshake failed")
	// ErrFrame reports a protocol violation in received frames. Incomplete
	// frames are never reported; they wait for more data.
	ErrFrame = errors.New("websocket malformed frame")
	// ErrCompression wraps permessage-deflate failures.
	ErrCompression = errors.New("websocket compression error")
	// ErrNotOpen is returned by writes attempted while the connection is not
	// open.
	ErrNotOpen = errors.New("websocket not open")
	// ErrControlTooLarge is returned for ping, pong and close payloads over
	// 125 bytes.
	ErrControlTooLarge = errors.New("websocket control frame payload too large")
)
