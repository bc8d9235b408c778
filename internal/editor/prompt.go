package editor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"collabtext/internal/engine"
)

// TerminalPrompter asks for the room and nickname on the agent's terminal.
// When the agent is not attached to one, the suggested values are used.
type TerminalPrompter struct {
	interactive bool
	out         io.Writer

	mu    sync.Mutex
	lines chan string
}

// NewTerminalPrompter prompts on stdin and stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return newPrompter(os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
}

func newPrompter(in io.Reader, out io.Writer, interactive bool) *TerminalPrompter {
	p := &TerminalPrompter{interactive: interactive, out: out}
	if interactive {
		p.lines = make(chan string)
		go func() {
			defer close(p.lines)
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				p.lines <- scanner.Text()
			}
		}()
	}
	return p
}

// PromptJoin returns defaults for empty answers. End of input cancels.
func (p *TerminalPrompter) PromptJoin(ctx context.Context, defaults engine.JoinRequest) (engine.JoinRequest, error) {
	if !p.interactive {
		return defaults, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	room, err := p.ask(ctx, "Room name", defaults.Room)
	if errors.Is(err, io.EOF) {
		return engine.JoinRequest{}, nil
	} else if err != nil {
		return engine.JoinRequest{}, err
	}
	nickname, err := p.ask(ctx, "Nickname", defaults.Nickname)
	if errors.Is(err, io.EOF) {
		return engine.JoinRequest{}, nil
	} else if err != nil {
		return engine.JoinRequest{}, err
	}
	return engine.JoinRequest{Room: room, Nickname: nickname}, nil
}

func (p *TerminalPrompter) ask(ctx context.Context, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
		return def, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
