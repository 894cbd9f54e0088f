// Command runchat talks to a remotely hosted agent, holding every tool call
// the agent makes for the user's approval.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// CLI is the command line.
type CLI struct {
	Config `embed:""`

	Chat   ChatCmd   `cmd:"" default:"1" help:"Chat with the agent in the terminal."`
	Serve  ServeCmd  `cmd:"" help:"Serve sessions over HTTP with AG-UI event streams."`
	Resume ResumeCmd `cmd:"" help:"Re-drive a stored session whose run was interrupted."`
	Tools  ToolsCmd  `cmd:"" help:"List the tools offered to the agent."`
}

// Globals is bound into every command's Run method.
type Globals struct {
	Ctx    context.Context
	Config *Config
	Logger *slog.Logger
	Stdin  io.Reader
	Stdout io.Writer
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "runchat: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads path if present. Variables already set win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var cli CLI
	parser, err := kong.New(
		&cli,
		kong.Name("runchat"),
		kong.Description("Chat with a remote agent, approving its tool calls."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	if err := cli.Config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := newLogger(stderr, cli.LogLevel, cli.LogFormat)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	slog.SetDefault(logger)

	return kctx.Run(&Globals{
		Ctx:    ctx,
		Config: &cli.Config,
		Logger: logger,
		Stdin:  stdin,
		Stdout: stdout,
	})
}
