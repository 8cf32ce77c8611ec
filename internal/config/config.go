package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// LoginMode is the login-initiation variant for a provider, resolved once at
// startup from configuration presence.
type LoginMode int

const (
	// ModeUnconfigured means no credentials are available for the provider
	ModeUnconfigured LoginMode = iota

	// ModeLocal builds the provider's authorize URL directly from local
	// OAuth credentials, without a network call
	ModeLocal

	// ModeRelay obtains the authorize URL from the hosted relay service
	ModeRelay
)

// Modes holds the resolved login mode per provider
type Modes struct {
	GitHub    LoginMode
	Google    LoginMode
	MagicLink LoginMode
}

// Config is the environment-driven configuration for authcore
type Config struct {
	// Public origin of this deployment, e.g. https://site.example.com
	BaseURL string `env:"AUTHCORE_BASE_URL" envDefault:"http://localhost:8080"`

	// Path prefix for all constructed callback/return URLs
	BasePath string `env:"AUTHCORE_BASE_PATH"`

	// Dashboard root the admin client is served from
	DashboardPath string `env:"AUTHCORE_DASHBOARD_PATH" envDefault:"/outstatic"`

	// Secret used to seal the session cookie
	SessionSecret Secret `env:"AUTHCORE_SESSION_SECRET"`

	// Local GitHub OAuth app credentials
	GitHubClientID     string `env:"AUTHCORE_GITHUB_ID"`
	GitHubClientSecret Secret `env:"AUTHCORE_GITHUB_SECRET"`
	GitHubCallbackURL  string `env:"AUTHCORE_GITHUB_CALLBACK_URL"`

	// Repository the collaborator check runs against
	RepoOwner string `env:"AUTHCORE_REPO_OWNER"`
	RepoSlug  string `env:"AUTHCORE_REPO_SLUG"`

	// Relay service credentials
	RelayAPIKey  Secret `env:"AUTHCORE_RELAY_API_KEY"`
	RelayBaseURL string `env:"AUTHCORE_RELAY_URL" envDefault:"https://relay.staticms.dev/api"`

	ListenAddr string `env:"AUTHCORE_LISTEN_ADDR" envDefault:":8080"`

	// Resolved once by Load; never re-derived per request
	Modes Modes `env:"-"`
}

// Load parses configuration from the environment and resolves login modes
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve computes the tagged login-mode variant per provider.
// First match wins: local credentials, then relay key, then unconfigured.
// Google and magic-link have no local mode.
func (c *Config) Resolve() {
	relay := ModeUnconfigured
	if c.RelayAPIKey != "" {
		relay = ModeRelay
	}

	c.Modes = Modes{
		GitHub:    relay,
		Google:    relay,
		MagicLink: relay,
	}
	if c.GitHubClientID != "" && c.GitHubClientSecret != "" {
		c.Modes.GitHub = ModeLocal
	}
}

// Validate checks invariants that would otherwise surface as confusing
// request-time failures.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("AUTHCORE_SESSION_SECRET is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("AUTHCORE_BASE_URL is required")
	}
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("AUTHCORE_BASE_PATH must start with /")
	}
	if c.Modes.GitHub == ModeLocal && (c.RepoOwner == "" || c.RepoSlug == "") {
		return fmt.Errorf("AUTHCORE_REPO_OWNER and AUTHCORE_REPO_SLUG are required for the collaborator check")
	}
	return nil
}

// DashboardURL is the absolute URL of the dashboard root
func (c *Config) DashboardURL() string {
	return c.BaseURL + c.BasePath + c.DashboardPath
}

// CallbackURL is the absolute URL of the OAuth callback route
func (c *Config) CallbackURL() string {
	return c.BaseURL + c.BasePath + "/callback"
}

// MagicLinkCallbackURL is the absolute URL of the magic-link callback route
func (c *Config) MagicLinkCallbackURL() string {
	return c.BaseURL + c.BasePath + "/callback/magic-link"
}
