package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// lineReader hands out operator input one line at a time. Reading starts on first use so commands
// that never prompt leave stdin alone.
type lineReader struct {
	r    io.Reader
	once sync.Once
	ch   chan string
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r, ch: make(chan string)}
}

func (l *lineReader) start() {
	go func() {
		defer close(l.ch)
		scanner := bufio.NewScanner(l.r)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024)
		for scanner.Scan() {
			l.ch <- scanner.Text()
		}
	}()
}

// Lines returns the channel Next reads from. It is closed at end of input.
func (l *lineReader) Lines() <-chan string {
	l.once.Do(l.start)
	return l.ch
}

// Next returns the next line, or false at end of input or when ctx ends.
func (l *lineReader) Next(ctx context.Context) (string, bool) {
	l.once.Do(l.start)
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-l.ch:
		return line, ok
	}
}

// terminalGate asks the operator on the terminal. Only "y" or "yes" confirms.
type terminalGate struct {
	lines *lineReader
	out   io.Writer
}

func (g *terminalGate) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintf(g.out, "%s [y/N]: ", prompt)
	line, ok := g.lines.Next(ctx)
	if !ok {
		fmt.Fprintln(g.out)
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
