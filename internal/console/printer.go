package console

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/sugawarayuuta/sonnet"

	"github.com/die-net/sockws/internal/ws"
)

// Printer writes one line per connection event.
type Printer struct {
	mu       sync.Mutex
	out      io.Writer
	jsonMode bool

	inbound  *color.Color
	outbound *color.Color
	control  *color.Color
	failure  *color.Color
	info     *color.Color
}

// NewPrinter returns a Printer writing to out. In JSON mode text messages
// are printed compacted, and those that are not valid JSON are flagged.
func NewPrinter(out io.Writer, noColor, jsonMode bool) *Printer {
	p := &Printer{
		out:      out,
		jsonMode: jsonMode,
		inbound:  color.New(color.FgGreen),
		outbound: color.New(color.FgBlue),
		control:  color.New(color.FgYellow),
		failure:  color.New(color.FgRed, color.Bold),
		info:     color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{p.inbound, p.outbound, p.control, p.failure, p.info} {
			c.DisableColor()
		}
	}
	return p
}

// Event prints ev.
func (p *Printer) Event(ev ws.Event) {
	switch ev.Kind {
	case ws.EventOpen:
		p.line(p.info, "connected")
	case ws.EventMessage:
		if ev.Binary {
			p.line(p.inbound, "< binary %d bytes: %s", len(ev.Data), hex.EncodeToString(ev.Data))
			return
		}
		text := ev.Text
		if p.jsonMode {
			compact, ok := CompactJSON(text)
			if !ok {
				p.line(p.failure, "< (invalid JSON) %s", text)
				return
			}
			text = compact
		}
		p.line(p.inbound, "< %s", text)
	case ws.EventPing:
		p.line(p.control, "< ping %q", ev.Data)
	case ws.EventPong:
		p.line(p.control, "< pong %q", ev.Data)
	case ws.EventError:
		p.line(p.failure, "error: %v", ev.Err)
	case ws.EventClose:
		if ev.Code == 0 {
			p.line(p.info, "disconnected")
			return
		}
		p.line(p.info, "disconnected (code: %d, reason: %q)", ev.Code, ev.Reason)
	}
}

// Sent echoes an operation that was written to the connection.
func (p *Printer) Sent(format string, args ...any) {
	p.line(p.outbound, "> "+format, args...)
}

// Errorf prints a local failure, such as an unknown command.
func (p *Printer) Errorf(format string, args ...any) {
	p.line(p.failure, format, args...)
}

func (p *Printer) line(c *color.Color, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = c.Fprintf(p.out, format, args...)
	_, _ = fmt.Fprintln(p.out)
}

// ValidJSON reports whether s is a single JSON value.
func ValidJSON(s string) bool {
	var v any
	return sonnet.Unmarshal([]byte(s), &v) == nil
}

// CompactJSON returns s with insignificant whitespace removed. It reports
// false, and returns s unchanged, when s is not a single JSON value.
func CompactJSON(s string) (string, bool) {
	if !ValidJSON(s) {
		return s, false
	}
	var buf bytes.Buffer
	if err := sonnet.Compact(&buf, []byte(s)); err != nil {
		return s, false
	}
	return buf.String(), true
}
