package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/staticms/authcore/internal/session"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Client is a thin client for the git-hosting provider's OAuth token endpoint
// and user/collaborator APIs.
type Client struct {
	config     oauth2.Config
	apiBaseURL string // defaults to https://api.github.com, can be overridden for testing
}

// Option overrides client defaults, mainly for tests
type Option func(*Client)

// WithAPIBaseURL points the client at a different API host
func WithAPIBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.apiBaseURL = baseURL
	}
}

// WithEndpoint overrides the OAuth authorize/token endpoints
func WithEndpoint(authURL, tokenURL string) Option {
	return func(c *Client) {
		c.config.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
	}
}

// NewClient creates a provider client. redirectURL may be empty: the
// authorize URL then omits the redirect_uri parameter and the provider
// falls back to the OAuth app's registered callback.
func NewClient(clientID, clientSecret, redirectURL string, opts ...Option) *Client {
	c := &Client{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"repo", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBaseURL: "https://api.github.com",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthURL builds the provider authorize URL without any network call
func (c *Client) AuthURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for tokens
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.config.Exchange(ctx, code)
}

// Refresh exchanges a refresh token for a new access token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	// Force the token source to run the refresh grant by handing it an
	// already-expired token.
	expired := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	token, err := c.config.TokenSource(ctx, expired).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return token, nil
}

type userResponse struct {
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type emailResponse struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// UserInfo fetches the provider user profile. GitHub only exposes the
// profile email when the user made it public, so a private email is fetched
// from the emails API.
func (c *Client) UserInfo(ctx context.Context, token *oauth2.Token) (session.User, error) {
	client := c.config.Client(ctx, token)

	user, err := c.fetchUser(client)
	if err != nil {
		return session.User{}, err
	}

	email := user.Email
	if email == "" {
		email, err = c.fetchPrimaryEmail(client)
		if err != nil {
			return session.User{}, fmt.Errorf("failed to get user email: %w", err)
		}
	}

	return session.User{
		Name:      user.Name,
		Login:     user.Login,
		Email:     email,
		AvatarURL: user.AvatarURL,
	}, nil
}

// IsCollaborator checks repository write access for a login.
// The provider answers 204 for collaborators and 404 otherwise.
func (c *Client) IsCollaborator(ctx context.Context, token *oauth2.Token, owner, repo, login string) (bool, error) {
	client := c.config.Client(ctx, token)

	url := fmt.Sprintf("%s/repos/%s/%s/collaborators/%s", c.apiBaseURL, owner, repo, login)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build collaborator request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check collaborator: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check collaborator: status %d", resp.StatusCode)
	}
}

func (c *Client) fetchUser(client *http.Client) (*userResponse, error) {
	resp, err := client.Get(c.apiBaseURL + "/user")
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user: status %d", resp.StatusCode)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}

	return &user, nil
}

func (c *Client) fetchPrimaryEmail(client *http.Client) (string, error) {
	resp, err := client.Get(c.apiBaseURL + "/user/emails")
	if err != nil {
		return "", fmt.Errorf("failed to get emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to get emails: status %d", resp.StatusCode)
	}

	var emails []emailResponse
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", fmt.Errorf("failed to decode emails: %w", err)
	}

	for _, email := range emails {
		if email.Primary && email.Verified {
			return email.Email, nil
		}
	}
	for _, email := range emails {
		if email.Verified {
			return email.Email, nil
		}
	}

	return "", fmt.Errorf("no verified email found")
}
