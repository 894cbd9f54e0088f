package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
	"github.com/spetersoncode/runchat/backend/assistants"
	"github.com/spetersoncode/runchat/backend/sim"
	"github.com/spetersoncode/runchat/credential"
	"github.com/spetersoncode/runchat/mcp"
	"github.com/spetersoncode/runchat/metrics"
	"github.com/spetersoncode/runchat/policy"
	"github.com/spetersoncode/runchat/store"
)

// App is the wired set of components a command works with.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Client   runchat.RunClient
	Driver   *agent.Driver
	Tools    *mcp.Executor
	Sessions *store.Sessions
	Metrics  *metrics.Collector

	closers []func() error
}

// NewApp builds the components described by cfg.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *App, err error) {
	app := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	toolCfg := runchat.ToolConfig{
		Instructions:    cfg.Instructions,
		ServerLabel:     cfg.MCPServerLabel,
		ServerURL:       cfg.MCPURL,
		RequireApproval: cfg.ApprovalRequired,
	}
	if toolCfg.Instructions == "" {
		toolCfg.Instructions = agent.DefaultInstructions
	}
	toolCreds, err := toolCredentials(cfg)
	if err != nil {
		return nil, err
	}

	if app.Tools, err = dialTools(ctx, cfg, toolCreds, logger); err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Tools.Close)

	creds, err := serviceCredentials(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "assistants":
		app.Client, err = assistants.New(assistants.Config{
			Endpoint:          cfg.Endpoint,
			AgentID:           cfg.AgentID,
			APIVersion:        cfg.APIVersion,
			Credentials:       creds,
			ToolCredentials:   toolCreds,
			Tools:             app.Tools,
			RequestsPerSecond: cfg.RateLimit,
			Logger:            logger.With("component", "assistants"),
		})
		if err != nil {
			return nil, err
		}
	default:
		app.Client = sim.New(
			sim.WithTools(app.Tools),
			sim.WithLogger(logger.With("component", "sim")),
		)
		// The simulator never checks tokens.
		creds = nil
	}

	opts := []agent.Option{
		agent.WithPollInterval(cfg.PollInterval),
		agent.WithApprovalRequired(cfg.ApprovalRequired),
		agent.WithMaxResolutionRetries(cfg.MaxResolutionRetries),
		agent.WithTools(toolCfg),
		agent.WithCredentials(creds),
		agent.WithLogger(logger.With("component", "driver")),
		agent.WithObserver(app.Metrics),
	}
	switch {
	case cfg.UsePolicy():
		engine, err := policy.Load(ctx, cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load approval policy: %w", err)
		}
		opts = append(opts, agent.WithPolicy(engine))
	case len(cfg.ApprovalTools) > 0:
		opts = append(opts, agent.WithApprovalRequiredTools(cfg.ApprovalTools...))
	}
	app.Driver = agent.New(app.Client, opts...)

	adapter, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, adapter.Close)
	app.Sessions = store.NewSessions(adapter)

	logger.Info("app ready",
		"backend", cfg.Backend,
		"tools", len(app.Tools.Tools()),
		"approval_required", cfg.ApprovalRequired,
		"policy", cfg.UsePolicy(),
		"db_path", cfg.DBPath,
		"redis", cfg.RedisURL != "",
	)
	return app, nil
}

// Close releases the app's resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore picks the session backend: Redis, SQLite, or memory.
func openStore(ctx context.Context, cfg *Config) (store.Adapter, error) {
	switch {
	case cfg.RedisURL != "":
		a, err := store.OpenRedis(ctx, cfg.RedisURL, cfg.RedisNamespace)
		if err != nil {
			return nil, err
		}
		return a, nil
	case cfg.DBPath != "":
		a, err := store.OpenSQLite(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return store.NewMemoryAdapter(), nil
}

// dialTools connects to the configured MCP server, or starts the demo tools
// in process.
func dialTools(ctx context.Context, cfg *Config, tokens credential.Provider, logger *slog.Logger) (*mcp.Executor, error) {
	log := logger.With("component", "mcp")
	if cfg.MCPURL == "" {
		exec, err := mcp.NewInProcess(ctx, mcp.NewDemoServer())
		if err != nil {
			return nil, fmt.Errorf("start demo tools: %w", err)
		}
		return exec.WithLogger(log), nil
	}
	exec, err := mcp.Dial(ctx, cfg.MCPURL, nil, tokens)
	if err != nil {
		return nil, fmt.Errorf("dial mcp server: %w", err)
	}
	return exec.WithLogger(log), nil
}

// serviceCredentials picks the agent service credential: a static key when
// configured, otherwise client credentials.
func serviceCredentials(cfg *Config) (credential.Provider, error) {
	switch {
	case cfg.APIKey != "":
		return credential.Static{Value: cfg.APIKey}, nil
	case cfg.ClientID != "":
		return credential.NewClientCredentials(cfg.clientCredentials(cfg.Scope))
	}
	return nil, nil
}

// toolCredentials returns the tool-subsystem token source, or nil when no
// MCP scope is configured. Tokens are read per run and per request, never
// cached here.
func toolCredentials(cfg *Config) (credential.Provider, error) {
	if cfg.MCPScope == "" {
		return nil, nil
	}
	provider, err := credential.NewClientCredentials(cfg.clientCredentials(cfg.MCPScope))
	if err != nil {
		return nil, fmt.Errorf("mcp token: %w", err)
	}
	return provider, nil
}
