package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// WebSocketEcho is a gorilla/websocket server that echoes every data message
// back to the client and answers close frames.
type WebSocketEcho struct {
	*httptest.Server
}

// StartWebSocketEcho starts an echo peer. compress enables permessage-deflate
// negotiation; useTLS serves wss with the httptest certificate.
func StartWebSocketEcho(t *testing.T, compress, useTLS bool) *WebSocketEcho {
	t.Helper()

	upgrader := websocket.Upgrader{
		EnableCompression: compress,
		CheckOrigin:       func(*http.Request) bool { return true },
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})

	srv := httptest.NewUnstartedServer(handler)
	if useTLS {
		srv.StartTLS()
	} else {
		srv.Start()
	}
	t.Cleanup(srv.Close)

	return &WebSocketEcho{Server: srv}
}

// WSURL returns the ws:// or wss:// URL of the echo peer with path appended.
func (e *WebSocketEcho) WSURL(path string) string {
	u := e.Server.URL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + path
}
