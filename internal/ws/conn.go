package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/die-net/sockws/internal/dialer"
	"github.com/die-net/sockws/internal/socks5"
)

// State is the connection lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Close status codes used when the client fails the connection itself.
const (
	CloseNormal          = 1000
	CloseProtocolError   = 1002
	CloseMessageTooBig   = 1009
	closeReasonMaxLength = maxControlPayload - 2
)

var errConnectStarted = errors.New("websocket connect already started")

// Conn is a client WebSocket connection. Create one with New, register
// listeners, then call Connect. All methods are safe for concurrent use.
type Conn struct {
	url  string
	opts Options
	log  logrus.FieldLogger

	events registry

	mu         sync.Mutex
	state      State
	started    bool
	transport  net.Conn
	deflate    bool
	closeTimer *time.Timer

	// writeMu serializes frame writes and mask key generation.
	writeMu sync.Mutex

	closeEmitted atomic.Bool
	done         chan struct{}
	doneOnce     sync.Once

	// Owned by the read goroutine.
	fragment *fragment
}

type fragment struct {
	opcode     opcode
	compressed bool
	data       []byte
}

// New returns an unconnected Conn for a ws:// or wss:// URL. The URL is
// validated by Connect.
func New(rawURL string, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		url:  rawURL,
		opts: opts,
		log: opts.Logger.WithFields(logrus.Fields{
			"conn_id": uuid.NewString(),
			"url":     rawURL,
		}),
		done: make(chan struct{}),
	}
}

// Dial creates a Conn and connects it. Listeners registered after Dial
// returns miss the open event.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	c := New(rawURL, opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// URL returns the URL the Conn was created with.
func (c *Conn) URL() string {
	return c.url
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Compressed reports whether permessage-deflate was negotiated.
func (c *Conn) Compressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.deflate
}

// Done is closed once the connection reaches StateClosed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// On sets the single slot listener for kind, replacing any previous one. It
// runs before listeners added with AddListener. A nil fn clears the slot.
func (c *Conn) On(kind EventKind, fn Listener) {
	if !validKind(kind) {
		return
	}
	c.events.setSlot(kind, fn)
}

// AddListener registers fn for kind. Listeners run in registration order.
func (c *Conn) AddListener(kind EventKind, fn Listener) ListenerID {
	if !validKind(kind) || fn == nil {
		return 0
	}
	return c.events.add(kind, fn)
}

// RemoveListener unregisters a listener returned by AddListener. It reports
// whether the listener was registered.
func (c *Conn) RemoveListener(kind EventKind, id ListenerID) bool {
	if !validKind(kind) {
		return false
	}
	return c.events.remove(kind, id)
}

// Connect opens the transport, performs the upgrade handshake and starts
// delivering events. On success the open event has been emitted. On failure
// an error event is emitted, the Conn ends in StateClosed and the same error
// is returned. ctx bounds the connection setup only.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.state != StateConnecting {
		c.mu.Unlock()
		return errConnectStarted
	}
	c.started = true
	c.mu.Unlock()

	conn, res, err := c.connect(ctx)
	if err != nil {
		c.log.WithError(err).Debug("Connect failed")
		c.emitError(err)
		c.teardown()
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Close was called during setup.
		c.mu.Unlock()
		_ = conn.Close()
		return ErrNotOpen
	}
	c.state = StateOpen
	c.deflate = res.deflate
	c.mu.Unlock()

	c.log.WithField("compression", res.deflate).Info("Connection open")
	c.emit(Event{Kind: EventOpen})

	go c.readLoop(conn, res.leftover)
	return nil
}

func (c *Conn) connect(ctx context.Context) (net.Conn, handshakeResult, error) {
	target, err := dialer.ParseTarget(c.url)
	if err != nil {
		return nil, handshakeResult{}, err
	}

	cfg := c.opts.dialerConfig()
	d, err := dialer.New(cfg, c.opts.proxyURL())
	if err != nil {
		return nil, handshakeResult{}, err
	}

	conn, err := dialer.Open(ctx, d, cfg, target)
	if err != nil {
		if !errors.Is(err, socks5.ErrProxyProtocol) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil, handshakeResult{}, err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, handshakeResult{}, ErrNotOpen
	}
	c.transport = conn
	c.mu.Unlock()

	res, err := c.handshake(ctx, conn, target)
	if err != nil {
		return nil, handshakeResult{}, err
	}
	return conn, res, nil
}

func (c *Conn) handshake(ctx context.Context, conn net.Conn, target dialer.Target) (handshakeResult, error) {
	key, err := newKey(c.opts.Rand)
	if err != nil {
		return handshakeResult{}, err
	}
	req, err := buildRequest(target, c.opts.Headers, key, c.opts.Compression)
	if err != nil {
		return handshakeResult{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	if c.opts.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.opts.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	res, err := c.exchange(conn, req, key)

	if !stop() && ctx.Err() != nil {
		return handshakeResult{}, ctx.Err()
	}
	if err != nil {
		return handshakeResult{}, err
	}
	_ = conn.SetDeadline(time.Time{})
	return res, nil
}

func (c *Conn) exchange(conn net.Conn, req []byte, key string) (handshakeResult, error) {
	if _, err := conn.Write(req); err != nil {
		return handshakeResult{}, fmt.Errorf("%w: write upgrade request: %w", ErrTransport, err)
	}
	return readHandshake(conn, key, c.opts.MaxHandshakeSize)
}

// SendText sends a text message, compressed when permessage-deflate was
// negotiated.
func (c *Conn) SendText(s string) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}

	payload := []byte(s)
	rsv1 := false
	if c.Compressed() {
		out, err := deflateMessage(payload)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrCompression, err)
			c.emitError(err)
			return err
		}
		payload, rsv1 = out, true
	}
	return c.writeFrame(opText, rsv1, payload, StateOpen)
}

// SendBinary sends a binary message. Binary messages are never compressed.
func (c *Conn) SendBinary(b []byte) error {
	return c.writeFrame(opBinary, false, b, StateOpen)
}

// Ping sends a ping control frame.
func (c *Conn) Ping(data []byte) error {
	if len(data) > maxControlPayload {
		return ErrControlTooLarge
	}
	return c.writeFrame(opPing, false, data, StateOpen)
}

// Pong sends an unsolicited pong control frame.
func (c *Conn) Pong(data []byte) error {
	if len(data) > maxControlPayload {
		return ErrControlTooLarge
	}
	return c.writeFrame(opPong, false, data, StateOpen)
}

// Close starts the closing handshake. A zero code sends a close frame without
// a body. Close is a no-op once closing has started. Closing a Conn that has
// not finished connecting abandons the attempt.
func (c *Conn) Close(code int, reason string) error {
	if len(reason) > closeReasonMaxLength {
		return ErrControlTooLarge
	}

	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		c.teardown()
		return nil
	}
	c.state = StateClosing
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Debug("Closing")

	if err := c.writeFrame(opClose, false, closePayload(code, reason), StateClosing); err != nil {
		return err
	}

	if c.opts.CloseTimeout > 0 {
		c.mu.Lock()
		if c.state == StateClosing {
			c.closeTimer = time.AfterFunc(c.opts.CloseTimeout, c.closeTimedOut)
		}
		c.mu.Unlock()
	}
	return nil
}

func (c *Conn) closeTimedOut() {
	c.log.Debug("Timed out waiting for close frame")
	if c.teardown() {
		c.emitClose(0, "")
	}
}

// writeFrame writes one frame if the Conn is in state want. Write failures
// are reported as error events and end the connection.
func (c *Conn) writeFrame(op opcode, rsv1 bool, payload []byte, want State) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	state, conn := c.state, c.transport
	c.mu.Unlock()
	if state != want {
		return ErrNotOpen
	}

	var key [4]byte
	if _, err := io.ReadFull(c.opts.Rand, key[:]); err != nil {
		return fmt.Errorf("generate mask key: %w", err)
	}

	if _, err := conn.Write(appendFrame(nil, op, rsv1, payload, key)); err != nil {
		if c.State() == StateClosed {
			// The peer's close won the race; our close already completed.
			if want == StateClosing {
				return nil
			}
			return ErrNotOpen
		}
		err = fmt.Errorf("%w: write %s frame: %w", ErrTransport, op, err)
		c.emitError(err)
		if c.teardown() {
			c.emitClose(0, "")
		}
		return err
	}
	return nil
}

func (c *Conn) readLoop(conn net.Conn, pending []byte) {
	buf := readBuffers.Get()
	defer readBuffers.Put(buf)

	if len(pending) > 0 {
		n := c.feed(pending)
		pending = append(pending[:0], pending[n:]...)
	}

	for c.State() != StateClosed {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			consumed := c.feed(pending)
			pending = append(pending[:0], pending[consumed:]...)
		}
		if err != nil {
			c.readFailed(err)
			return
		}
	}
}

// feed decodes and handles every complete frame at the front of buf and
// returns the number of bytes consumed.
func (c *Conn) feed(buf []byte) int {
	off := 0
	for c.State() != StateClosed {
		f, n, err := decodeFrame(buf[off:], c.opts.maxPayload())
		if err != nil {
			code := CloseProtocolError
			if errors.Is(err, errFrameTooLarge) {
				code = CloseMessageTooBig
			}
			c.fail(err, code)
			return len(buf)
		}
		if n == 0 {
			break
		}
		off += n
		c.handleFrame(f)
	}
	return off
}

func (c *Conn) handleFrame(f frame) {
	switch f.opcode {
	case opText, opBinary:
		if c.fragment != nil {
			c.emitError(fmt.Errorf("%w: %s frame inside a fragmented message", ErrFrame, f.opcode))
			c.fragment = nil
		}
		compressed := f.rsv1 && c.Compressed()
		if !f.fin {
			c.fragment = &fragment{opcode: f.opcode, compressed: compressed, data: bytes.Clone(f.payload)}
			return
		}
		c.deliver(f.opcode, compressed, f.payload, true)
	case opContinuation:
		if c.fragment == nil {
			c.emitError(fmt.Errorf("%w: continuation frame without a message", ErrFrame))
			return
		}
		if limit := c.opts.maxPayload(); limit > 0 && uint64(len(c.fragment.data)+len(f.payload)) > limit {
			c.fragment = nil
			c.fail(fmt.Errorf("%w: fragmented message exceeds limit of %d", errFrameTooLarge, limit), CloseMessageTooBig)
			return
		}
		c.fragment.data = append(c.fragment.data, f.payload...)
		if f.fin {
			m := c.fragment
			c.fragment = nil
			c.deliver(m.opcode, m.compressed, m.data, false)
		}
	case opClose:
		code, reason := parseClosePayload(f.payload)
		c.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Debug("Received close frame")
		c.emitClose(code, reason)

		if c.State() == StateOpen {
			_ = c.Close(code, reason)
		}
		c.teardown()
	case opPing:
		data := bytes.Clone(f.payload)
		c.emit(Event{Kind: EventPing, Data: data})
		if err := c.writeFrame(opPong, false, data, StateOpen); err != nil {
			c.log.WithError(err).Debug("Pong not sent")
		}
	case opPong:
		c.emit(Event{Kind: EventPong, Data: bytes.Clone(f.payload)})
	default:
		c.log.WithField("opcode", f.opcode).Debug("Ignoring frame with reserved opcode")
	}
}

// deliver emits a complete message. aliased reports whether payload points
// into the read buffer.
func (c *Conn) deliver(op opcode, compressed bool, payload []byte, aliased bool) {
	if compressed {
		out, err := inflateMessage(payload, c.opts.maxPayload())
		if err != nil {
			if errors.Is(err, errFrameTooLarge) {
				c.fail(err, CloseMessageTooBig)
				return
			}
			c.emitError(fmt.Errorf("%w: %w", ErrCompression, err))
			return
		}
		payload, aliased = out, false
	}

	if op == opText {
		c.emit(Event{Kind: EventMessage, Text: string(payload)})
		return
	}

	if aliased && c.opts.BinaryType == BinaryCopy {
		payload = bytes.Clone(payload)
	}
	c.emit(Event{Kind: EventMessage, Binary: true, Data: payload})
}

func (c *Conn) readFailed(err error) {
	if c.State() == StateClosed {
		return
	}
	if !errors.Is(err, io.EOF) {
		c.emitError(fmt.Errorf("%w: %w", ErrTransport, err))
	}
	c.log.WithError(err).Debug("Transport ended")
	if c.teardown() {
		c.emitClose(0, "")
	}
}

// fail reports err, sends a best-effort close frame with code and ends the
// connection.
func (c *Conn) fail(err error, code int) {
	c.emitError(err)
	_ = c.Close(code, "")
	if c.teardown() {
		c.emitClose(code, "")
	}
}

// teardown moves to StateClosed and closes the transport. It reports whether
// this call made the transition.
func (c *Conn) teardown() bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateClosed
	conn := c.transport
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		c.log.Info("Connection closed")
	}
	c.doneOnce.Do(func() { close(c.done) })
	return true
}

func (c *Conn) emitError(err error) {
	c.emit(Event{Kind: EventError, Err: err})
}

// emitClose emits the close event at most once per Conn.
func (c *Conn) emitClose(code int, reason string) {
	if !c.closeEmitted.CompareAndSwap(false, true) {
		return
	}
	c.emit(Event{Kind: EventClose, Code: code, Reason: reason})
}

func (c *Conn) emit(ev Event) {
	for _, fn := range c.events.snapshot(ev.Kind) {
		c.call(fn, ev)
	}
}

func (c *Conn) call(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("event", ev.Kind).Warnf("Listener panic: %v", r)
		}
	}()
	fn(ev)
}
