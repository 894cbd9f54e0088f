// Package credential supplies bearer tokens for the remote run service and
// the tool subsystem. The driver only reads tokens; refresh is the provider's
// concern.
package credential

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/spetersoncode/runchat"
)

// expiryLeeway treats tokens as expired slightly early so a request never
// leaves with a token that lapses in flight.
const expiryLeeway = 30 * time.Second

// Token is a bearer credential with an optional expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time // zero means no expiry
}

// Valid reports whether the token is present and not expired at now.
func (t Token) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(expiryLeeway).Before(t.ExpiresAt)
}

// Header returns the Authorization header value for the token.
func (t Token) Header() string {
	return "Bearer " + t.Value
}

// Provider returns the current token.
type Provider interface {
	Token(ctx context.Context) (Token, error)
}

// Static is a Provider that always returns the same token.
type Static Token

// Token returns the static token.
func (s Static) Token(context.Context) (Token, error) {
	return Token(s), nil
}

// Check fetches a token from p and verifies it is usable now.
// A nil provider means no authentication is configured and always passes.
// Missing or expired tokens are reported as runchat.ErrAuthExpired.
func Check(ctx context.Context, p Provider) (Token, error) {
	if p == nil {
		return Token{}, nil
	}
	tok, err := p.Token(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", runchat.ErrAuthExpired, err)
	}
	if !tok.Valid(time.Now()) {
		return Token{}, runchat.ErrAuthExpired
	}
	return tok, nil
}

// DefaultAuthority is the identity provider used when none is configured.
const DefaultAuthority = "https://login.microsoftonline.com"

// AuthorityURL returns the OAuth2 v2 token endpoint for tenant.
func AuthorityURL(authority, tenant string) string {
	if authority == "" {
		authority = DefaultAuthority
	}
	return strings.TrimSuffix(authority, "/") + "/" + tenant + "/oauth2/v2.0/token"
}

// ClientCredentialsConfig configures a ClientCredentials provider.
type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the endpoint derived from Authority and Tenant.
	TokenURL  string
	Authority string
	Tenant    string
	Scopes    []string
}

// ClientCredentials obtains tokens with the OAuth2 client credentials grant.
// Tokens are cached and refreshed when they expire.
type ClientCredentials struct {
	mu  sync.Mutex
	src oauth2.TokenSource
	cfg clientcredentials.Config
}

// NewClientCredentials creates a client-credentials provider.
func NewClientCredentials(cfg ClientCredentialsConfig) (*ClientCredentials, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials: client id and secret are required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.Tenant == "" {
			return nil, fmt.Errorf("client credentials: tenant or token url is required")
		}
		tokenURL = AuthorityURL(cfg.Authority, cfg.Tenant)
	}
	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       cfg.Scopes,
		},
	}, nil
}

// Token returns a cached token, fetching a new one when needed.
func (c *ClientCredentials) Token(ctx context.Context) (Token, error) {
	c.mu.Lock()
	if c.src == nil {
		// The token source keeps the context for refreshes, so detach it
		// from request cancellation.
		c.src = oauth2.ReuseTokenSource(nil, c.cfg.TokenSource(context.WithoutCancel(ctx)))
	}
	src := c.src
	c.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return Token{}, fmt.Errorf("fetch token: %w", err)
	}
	return Token{Value: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}
