package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/die-net/sockws/internal/ws"
)

// Op is the operation an input line requests.
type Op int

const (
	OpText Op = iota
	OpBinary
	OpPing
	OpPong
	OpClose
)

// Command is a parsed input line.
type Command struct {
	Op     Op
	Data   string
	Code   int
	Reason string
}

// ErrEmpty is returned by Parse for blank lines.
var ErrEmpty = errors.New("empty line")

// Parse turns an input line into a Command. Lines starting with "/" are
// commands:
//
//	/ping [data]
//	/pong [data]
//	/binary <text>
//	/close [code [reason]]
//	/quit
//
// Any other line is sent as text. A leading "//" sends a text message that
// starts with a single "/".
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{}, ErrEmpty
	}

	if strings.HasPrefix(line, "//") {
		return Command{Op: OpText, Data: line[1:]}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Op: OpText, Data: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	switch strings.ToLower(name) {
	case "ping":
		return Command{Op: OpPing, Data: rest}, nil
	case "pong":
		return Command{Op: OpPong, Data: rest}, nil
	case "binary":
		if rest == "" {
			return Command{}, errors.New("usage: /binary <text>")
		}
		return Command{Op: OpBinary, Data: rest}, nil
	case "quit":
		return Command{Op: OpClose, Code: ws.CloseNormal}, nil
	case "close":
		cmd := Command{Op: OpClose}
		codeStr, reason, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if codeStr == "" {
			return cmd, nil
		}
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 1000 || code > 4999 {
			return Command{}, fmt.Errorf("invalid close code %q: want 1000-4999", codeStr)
		}
		cmd.Code, cmd.Reason = code, reason
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unknown command /%s", name)
	}
}

// Sender is the subset of *ws.Conn a Command needs.
type Sender interface {
	SendText(string) error
	SendBinary([]byte) error
	Ping([]byte) error
	Pong([]byte) error
	Close(code int, reason string) error
}

// Apply performs cmd on s.
func (cmd Command) Apply(s Sender) error {
	switch cmd.Op {
	case OpText:
		return s.SendText(cmd.Data)
	case OpBinary:
		return s.SendBinary([]byte(cmd.Data))
	case OpPing:
		return s.Ping([]byte(cmd.Data))
	case OpPong:
		return s.Pong([]byte(cmd.Data))
	case OpClose:
		return s.Close(cmd.Code, cmd.Reason)
	default:
		return fmt.Errorf("unknown op %d", cmd.Op)
	}
}

func (cmd Command) String() string {
	switch cmd.Op {
	case OpText:
		return cmd.Data
	case OpBinary:
		return fmt.Sprintf("binary %d bytes", len(cmd.Data))
	case OpPing:
		return fmt.Sprintf("ping %q", cmd.Data)
	case OpPong:
		return fmt.Sprintf("pong %q", cmd.Data)
	case OpClose:
		if cmd.Code == 0 {
			return "close"
		}
		return fmt.Sprintf("close %d %q", cmd.Code, cmd.Reason)
	default:
		return "?"
	}
}
