package agent

import (
	"log/slog"
	"time"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/credential"
	"github.com/spetersoncode/runchat/internal/retry"
)

// DefaultInstructions are sent with every run unless overridden.
const DefaultInstructions = "You are a helpful assistant, you will respond to the user's message and " +
	"you will use the tools provided to you to help the user. You will justify what tools you are " +
	"going to use before requesting them."

// RetryInstruction is posted as a new turn when the user retries a failed run.
const RetryInstruction = "Please continue from where the previous attempt failed. " +
	"Retry the last operation that encountered an error."

// Options contains configuration for the driver.
type Options struct {
	// PollInterval is the delay between run status fetches. Default is 500ms.
	PollInterval time.Duration

	// ApprovalRequired routes tool calls through the gate. When false every
	// approval request is still emitted but auto-approved. Default is true.
	ApprovalRequired bool

	// MaxResolutionRetries bounds retries when submitting a decided batch.
	// Default is 3.
	MaxResolutionRetries int

	// FetchRetry governs retries of run status fetches.
	FetchRetry retry.Config

	// ResolveRetry supplies backoff timing for batch submission. Its
	// MaxAttempts is derived from MaxResolutionRetries.
	ResolveRetry retry.Config

	// Tools is the tool configuration sent with every run.
	Tools runchat.ToolConfig

	// Policy decides per call whether a human must be asked.
	// Default requires approval for every call.
	Policy ApprovalPolicy

	// Credentials is checked before every remote call. Nil disables the check.
	Credentials credential.Provider

	Logger *slog.Logger

	Observer Observer
}

// Option is a functional option for configuring the driver.
type Option func(*Options)

// WithPollInterval sets the delay between status fetches.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = d
	}
}

// WithApprovalRequired enables or disables the human approval step.
func WithApprovalRequired(required bool) Option {
	return func(o *Options) {
		o.ApprovalRequired = required
	}
}

// WithMaxResolutionRetries sets how often a failed batch submission is retried.
func WithMaxResolutionRetries(n int) Option {
	return func(o *Options) {
		o.MaxResolutionRetries = n
	}
}

// WithFetchRetry sets the retry policy for status fetches.
func WithFetchRetry(cfg retry.Config) Option {
	return func(o *Options) {
		o.FetchRetry = cfg
	}
}

// WithResolveRetry sets the backoff timing for batch submission.
func WithResolveRetry(cfg retry.Config) Option {
	return func(o *Options) {
		o.ResolveRetry = cfg
	}
}

// WithTools sets the tool configuration sent with every run.
func WithTools(cfg runchat.ToolConfig) Option {
	return func(o *Options) {
		o.Tools = cfg
	}
}

// WithPolicy sets the approval policy.
func WithPolicy(p ApprovalPolicy) Option {
	return func(o *Options) {
		o.Policy = p
	}
}

// WithApprovalRequiredTools only asks for approval on the named tools;
// every other call is allowed automatically.
func WithApprovalRequiredTools(tools ...string) Option {
	return func(o *Options) {
		o.Policy = ToolList(tools)
	}
}

// WithCredentials sets the credential provider checked before remote calls.
func WithCredentials(p credential.Provider) Option {
	return func(o *Options) {
		o.Credentials = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithObserver sets the observer notified of polls, deliveries and resolutions.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// ApplyOptions applies functional options over the defaults.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{
		PollInterval:         500 * time.Millisecond,
		ApprovalRequired:     true,
		MaxResolutionRetries: 3,
		FetchRetry:           retry.DefaultConfig(),
		ResolveRetry:         retry.DefaultConfig(),
		Tools:                runchat.ToolConfig{Instructions: DefaultInstructions, RequireApproval: true},
		Policy:               RequireAll{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Policy == nil {
		o.Policy = RequireAll{}
	}
	if o.MaxResolutionRetries < 0 {
		o.MaxResolutionRetries = 0
	}
	return o
}

// resolveRetry returns the retry config used for batch submission: one
// initial attempt plus MaxResolutionRetries retries.
func (o *Options) resolveRetry() retry.Config {
	return o.ResolveRetry.WithAttempts(o.MaxResolutionRetries + 1)
}
