package console

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
)

// LineReader yields input lines. Writer returns where output should go so it
// does not clobber an interactive prompt.
type LineReader interface {
	ReadLine() (string, error)
	Writer() io.Writer
	Close() error
}

// NewLineReader uses readline with a prompt and history when in is a
// terminal, and plain line scanning otherwise.
func NewLineReader(in *os.File, out io.Writer, prompt string) (LineReader, error) {
	if !isatty.IsTerminal(in.Fd()) && !isatty.IsCygwinTerminal(in.Fd()) {
		return NewScanner(in, out), nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryLimit:    500,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
		Stdin:           in,
		Stdout:          out,
	})
	if err != nil {
		return nil, err
	}
	return &terminalReader{rl: rl}, nil
}

type terminalReader struct {
	rl *readline.Instance
}

func (r *terminalReader) ReadLine() (string, error) {
	line, err := r.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return line, err
}

func (r *terminalReader) Writer() io.Writer {
	return r.rl.Stdout()
}

func (r *terminalReader) Close() error {
	return r.rl.Close()
}

// Scanner reads newline separated input without line editing.
type Scanner struct {
	sc  *bufio.Scanner
	out io.Writer
}

func NewScanner(in io.Reader, out io.Writer) *Scanner {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	return &Scanner{sc: sc, out: out}
}

func (s *Scanner) ReadLine() (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *Scanner) Writer() io.Writer {
	return s.out
}

func (s *Scanner) Close() error {
	return nil
}
