package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/spetersoncode/runchat/credential"
)

// Config holds the settings shared by every command. Values come from flags,
// the environment, or a .env file, in that order of precedence.
type Config struct {
	// Agent service
	Backend    string  `name:"backend" help:"Run service backend." env:"RUNCHAT_BACKEND" default:"sim" enum:"sim,assistants"`
	Endpoint   string  `name:"endpoint" help:"Agent service endpoint URL." env:"RUNCHAT_ENDPOINT"`
	AgentID    string  `name:"agent-id" help:"Agent (assistant) id runs are started with." env:"RUNCHAT_AGENT_ID"`
	APIVersion string  `name:"api-version" help:"api-version query parameter for the agent service." env:"RUNCHAT_API_VERSION"`
	APIKey     string  `name:"api-key" help:"Static bearer token for the agent service." env:"RUNCHAT_API_KEY"`
	RateLimit  float64 `name:"rate-limit" help:"Maximum requests per second to the agent service (0 = unlimited)." env:"RUNCHAT_RATE_LIMIT" default:"0"`

	// OAuth2 client credentials, used for the agent service when no API key
	// is set and for the MCP server when --mcp-scope is set.
	TenantID     string `name:"tenant-id" help:"Identity tenant id." env:"RUNCHAT_TENANT_ID"`
	ClientID     string `name:"client-id" help:"OAuth2 client id." env:"RUNCHAT_CLIENT_ID"`
	ClientSecret string `name:"client-secret" help:"OAuth2 client secret." env:"RUNCHAT_CLIENT_SECRET"`
	Authority    string `name:"authority" help:"Identity provider base URL." env:"RUNCHAT_AUTHORITY" default:"https://login.microsoftonline.com"`
	Scope        string `name:"scope" help:"OAuth2 scope for the agent service." env:"RUNCHAT_SCOPE" default:"https://ai.azure.com/.default"`

	// Tools
	MCPURL         string `name:"mcp-url" help:"MCP server SSE endpoint. Empty uses the built-in demo tools." env:"RUNCHAT_MCP_URL"`
	MCPServerLabel string `name:"mcp-server-label" help:"Label of the MCP server in run tool resources." env:"RUNCHAT_MCP_SERVER_LABEL" default:"demo"`
	MCPScope       string `name:"mcp-scope" help:"OAuth2 scope for the MCP server token." env:"RUNCHAT_MCP_SCOPE"`

	// Driver
	PollInterval         time.Duration `name:"poll-interval" help:"Delay between run status fetches." env:"RUNCHAT_POLL_INTERVAL" default:"500ms"`
	ApprovalRequired     bool          `name:"approval-required" help:"Ask before every tool call." env:"RUNCHAT_APPROVAL_REQUIRED" default:"true" negatable:""`
	ApprovalTools        []string      `name:"approval-tools" help:"Only these tools require approval (comma separated)." env:"RUNCHAT_APPROVAL_TOOLS" sep:","`
	MaxResolutionRetries int           `name:"max-resolution-retries" help:"Retries when submitting approval decisions." env:"RUNCHAT_MAX_RESOLUTION_RETRIES" default:"3"`
	Instructions         string        `name:"instructions" help:"Run instructions. Empty uses the built-in instructions." env:"RUNCHAT_INSTRUCTIONS"`
	Policy               bool          `name:"policy" help:"Evaluate tool calls with the approval policy." env:"RUNCHAT_POLICY"`
	PolicyFile           string        `name:"policy-file" help:"Rego approval policy. Implies --policy." env:"RUNCHAT_POLICY_FILE" type:"path"`

	// Storage
	DBPath         string `name:"db-path" help:"SQLite session database. Empty keeps sessions in memory." env:"RUNCHAT_DB_PATH" type:"path"`
	RedisURL       string `name:"redis-url" help:"Redis session store, e.g. redis://localhost:6379/0." env:"RUNCHAT_REDIS_URL"`
	RedisNamespace string `name:"redis-namespace" help:"Key prefix for sessions in Redis." env:"RUNCHAT_REDIS_NAMESPACE" default:"runchat:"`

	// Logging
	LogLevel  string `name:"log-level" help:"Log level." env:"RUNCHAT_LOG_LEVEL" default:"warn" enum:"debug,info,warn,error"`
	LogFormat string `name:"log-format" help:"Log output format." env:"RUNCHAT_LOG_FORMAT" default:"text" enum:"text,json"`
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case "sim":
	case "assistants":
		if c.Endpoint == "" {
			errs = append(errs, errors.New("RUNCHAT_ENDPOINT is required for the assistants backend"))
		}
		if c.AgentID == "" {
			errs = append(errs, errors.New("RUNCHAT_AGENT_ID is required for the assistants backend"))
		}
		if c.APIKey == "" && c.ClientID == "" {
			errs = append(errs, errors.New("RUNCHAT_API_KEY or RUNCHAT_CLIENT_ID is required for the assistants backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if c.ClientID != "" || c.MCPScope != "" {
		if c.ClientID == "" || c.ClientSecret == "" || c.TenantID == "" {
			errs = append(errs, errors.New("RUNCHAT_CLIENT_ID, RUNCHAT_CLIENT_SECRET and RUNCHAT_TENANT_ID must be set together"))
		}
	}

	if c.RedisURL != "" && c.DBPath != "" {
		errs = append(errs, errors.New("RUNCHAT_REDIS_URL and RUNCHAT_DB_PATH are mutually exclusive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %g", c.RateLimit))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxResolutionRetries < 0 {
		errs = append(errs, fmt.Errorf("max resolution retries must not be negative, got %d", c.MaxResolutionRetries))
	}
	if _, err := charmLog.ParseLevel(strings.TrimSpace(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	return errors.Join(errs...)
}

// UsePolicy reports whether tool calls go through the rego policy.
func (c *Config) UsePolicy() bool {
	return c.Policy || c.PolicyFile != ""
}

// clientCredentials returns the OAuth2 configuration for scope.
func (c *Config) clientCredentials(scope string) credential.ClientCredentialsConfig {
	return credential.ClientCredentialsConfig{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Authority:    c.Authority,
		Tenant:       c.TenantID,
		Scopes:       []string{scope},
	}
}
