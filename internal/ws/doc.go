// Package ws is a WebSocket client that speaks RFC 6455 directly on a raw
// stream, without an underlying WebSocket library.
//
// A Conn opens its transport through internal/dialer (directly, or through a
// socks5:// or socks5h:// proxy), performs the HTTP/1.1 upgrade itself, and
// then runs the frame codec over the stream: every outbound frame is masked
// with a fresh key, payloads use 7, 16 or 64 bit lengths, and text messages
// are compressed with permessage-deflate when the server negotiates it.
//
// Events (open, message, error, close, ping, pong) are delivered
// synchronously, in order, on the goroutine that reads from the transport.
// Each kind has one optional slot set with On, which always runs first, and
// any number of listeners added with AddListener.
//
//	c := ws.New("wss://echo.example/ws", ws.Options{Proxy: "socks5h://127.0.0.1:9050"})
//	c.On(ws.EventMessage, func(ev ws.Event) { fmt.Println(ev.Text) })
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	_ = c.SendText("hello")
package ws
