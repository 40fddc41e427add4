// Package cli is the operator surface of the roster console: a cobra command tree over app.Console.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ecoroster/console/internal/app"
	"ecoroster/console/internal/config"
	"ecoroster/console/internal/transition"
)

// Env is everything a command touches outside the process. Tests replace parts of it.
type Env struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	LoadConfig func() (config.Config, error)
	Build      func(ctx context.Context, cfg config.Config, gate transition.Gate, redirect func(reason string)) (*app.Runtime, error)
}

func DefaultEnv() *Env {
	return &Env{
		In:         os.Stdin,
		Out:        os.Stdout,
		Err:        os.Stderr,
		LoadConfig: config.Load,
		Build:      app.Build,
	}
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	// Yes answers every confirmation prompt with yes.
	Yes bool

	env     *Env
	lines   *lineReader
	printer *Printer
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand(env *Env) *cobra.Command {
	if env == nil {
		env = DefaultEnv()
	}
	opts := &RootOptions{env: env, lines: newLineReader(env.In)}

	cmd := &cobra.Command{
		Use:           "roster",
		Short:         "Roster admin console",
		Long:          "Review registration requests, approve them into members and manage the member roster, live from the document store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.printer = NewPrinter(opts.Format, env.Out, env.Err)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm every prompt without asking")

	cmd.AddCommand(newConsoleCommand(opts))
	cmd.AddCommand(newApproveCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newLogoutCommand(opts))
	cmd.AddCommand(newWhoamiCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, env *Env, args []string) int {
	cmd := NewRootCommand(env)
	cmd.SetArgs(args)
	cmd.SetOut(env.Out)
	cmd.SetErr(env.Err)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		NewPrinter("text", env.Out, env.Err).Fail(err)
	}
	return GetExitCode(err)
}

// config loads the configuration and installs the process logger.
func (o *RootOptions) config() (config.Config, error) {
	cfg, err := o.env.LoadConfig()
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "configuration", err)
	}
	level := cfg.LogLevel
	if o.Verbose {
		level = "debug"
	}
	slog.SetDefault(NewLogger(level, cfg.LogFormat, o.env.Err))
	return cfg, nil
}

func (o *RootOptions) gate() transition.Gate {
	if o.Yes {
		return transition.AlwaysConfirm
	}
	return &terminalGate{lines: o.lines, out: o.env.Out}
}

// openConsole builds the runtime and opens the console for the signed-in admin.
func (o *RootOptions) openConsole(ctx context.Context, redirect func(string)) (*app.Runtime, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	if redirect == nil {
		redirect = func(reason string) { o.printer.Warn("%s", reason) }
	}
	rt, err := o.env.Build(ctx, cfg, o.gate(), redirect)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "connect", err)
	}
	if err := rt.Console.Open(ctx); err != nil {
		rt.Close()
		return nil, consoleError(err)
	}
	return rt, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
