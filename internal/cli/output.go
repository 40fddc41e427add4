package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"ecoroster/console/internal/app"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // an operator action failed (not found, commit rejected, ...)
	ExitCommandError = 2 // bad arguments or configuration, unreachable backends
	ExitUnauthorized = 3 // no admin session
)

// ExitError carries the exit code a command should end with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Anything that is not an ExitError is a failure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope used with --format json.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Printer writes command output as colored text or JSON.
type Printer struct {
	Format string
	Out    io.Writer
	Err    io.Writer

	green  *color.Color
	red    *color.Color
	cyan   *color.Color
	yellow *color.Color
	faint  *color.Color
}

func NewPrinter(format string, out, errw io.Writer) *Printer {
	return &Printer{
		Format: format,
		Out:    out,
		Err:    errw,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		cyan:   color.New(color.FgCyan),
		yellow: color.New(color.FgYellow),
		faint:  color.New(color.Faint),
	}
}

func (p *Printer) JSON() bool { return p.Format == "json" }

// Data emits a successful payload. text renders it in text mode.
func (p *Printer) Data(data any, text func(w io.Writer)) error {
	if p.JSON() {
		return json.NewEncoder(p.Out).Encode(Response{Status: "ok", Data: data})
	}
	text(p.Out)
	return nil
}

// Notice prints the outcome of an approve or remove.
func (p *Printer) Notice(id string, n app.Notice) {
	if p.JSON() {
		resp := Response{Status: "ok", Data: map[string]string{"id": id, "level": string(n.Level), "message": n.Message}}
		if n.Failed() {
			resp.Status = "error"
			resp.Error = n.Message
		}
		_ = json.NewEncoder(p.Out).Encode(resp)
		return
	}
	switch n.Level {
	case app.LevelSuccess:
		p.green.Fprintf(p.Out, "%s %s\n", n.Message, p.faint.Sprintf("(%s)", id))
	case app.LevelError:
		msg := n.Message
		if n.Detail != "" {
			msg += " " + p.faint.Sprintf("(%s: %s)", id, n.Detail)
		}
		p.red.Fprintln(p.Out, msg)
	default:
		p.yellow.Fprintf(p.Out, "Cancelled %s\n", id)
	}
}

// Heading prints a section title.
func (p *Printer) Heading(w io.Writer, title string) {
	p.cyan.Fprintln(w, title)
}

// Warn prints a diagnostic to the error stream.
func (p *Printer) Warn(format string, args ...any) {
	p.yellow.Fprintf(p.Err, format+"\n", args...)
}

// Fail prints an error to the error stream.
func (p *Printer) Fail(err error) {
	if p.JSON() {
		_ = json.NewEncoder(p.Out).Encode(Response{Status: "error", Error: err.Error()})
		return
	}
	p.red.Fprintf(p.Err, "Error: %v\n", err)
}
