package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/staticms/authcore/internal/config"
	"github.com/staticms/authcore/internal/log"
)

// Known error codes the relay is allowed to surface to the browser. Anything
// else collapses to the per-endpoint fallback code so internal relay details
// never leak.
const (
	CodeInvalidAPIKey           = "invalid-api-key"
	CodeProjectURLNotConfigured = "project-url-not-configured"
	CodeInvalidCallbackDomain   = "invalid-callback-domain"
	CodeInvalidCallbackTarget   = "invalid-callback-target"

	CodeInvalidToken = "invalid_token"
	CodeInvalidData  = "invalid_data"
	CodeSessionError = "session-error"
)

var knownCodes = map[string]bool{
	CodeInvalidAPIKey:           true,
	CodeProjectURLNotConfigured: true,
	CodeInvalidCallbackDomain:   true,
	CodeInvalidCallbackTarget:   true,
}

// Error is a relay failure normalized to a finite code set
type Error struct {
	Code   string
	Status int
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay error: %s (status %d)", e.Code, e.Status)
}

// FallbackCode is the provider-specific catch-all for relay failures on the
// login-initiation endpoints.
func FallbackCode(provider string) string {
	return provider + "-relay-failed"
}

// Client talks to the hosted relay service
type Client struct {
	baseURL string
	apiKey  config.Secret
	http    *retry.Client
}

// NewClient creates a relay client with retrying transport
func NewClient(baseURL string, apiKey config.Secret) (*Client, error) {
	httpClient, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay http client: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httpClient,
	}, nil
}

// AuthorizeRequest is the login-initiation payload sent to the relay
type AuthorizeRequest struct {
	CallbackURL string `json:"callback_url"`
	Email       string `json:"email,omitempty"`
	ReturnURL   string `json:"returnUrl,omitempty"`
}

// AuthorizeURL obtains a provider authorize URL (or for magic-link, triggers
// the email) via the relay's provider-specific endpoint. Known relay error
// codes pass through with their status; unknown codes, network failures, and
// malformed success payloads collapse to the provider fallback code.
func (c *Client) AuthorizeURL(ctx context.Context, provider string, req AuthorizeRequest) (string, error) {
	var endpoint string
	switch provider {
	case "github":
		endpoint = "/auth/github-exchange"
	case "google":
		endpoint = "/auth/google-exchange"
	case "magic-link":
		endpoint = "/auth/request-magic-link"
	default:
		return "", fmt.Errorf("unknown relay provider: %q", provider)
	}

	fallback := &Error{Code: FallbackCode(provider), Status: http.StatusInternalServerError}

	resp, err := c.post(ctx, endpoint, true, req)
	if err != nil {
		log.LogErrorWithFields("relay", "Authorize exchange failed", map[string]any{
			"provider": provider,
			"error":    err.Error(),
		})
		return "", fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", mapErrorResponse(resp, fallback)
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.URL == "" {
		// A malformed success payload is never silently accepted
		return "", fallback
	}

	return payload.URL, nil
}

// ExchangePayload is the strict schema of a successful exchange response
type ExchangePayload struct {
	User struct {
		Name      string  `json:"name"`
		Login     *string `json:"login"`
		Email     string  `json:"email"`
		AvatarURL string  `json:"avatar_url"`
	} `json:"user"`
	Session struct {
		AccessToken           string     `json:"access_token"`
		RefreshToken          string     `json:"refresh_token"`
		ExpiresAt             time.Time  `json:"expires_at"`
		RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at"`
		RefreshTokenExpiresIn int64      `json:"refresh_token_expires_in"`
	} `json:"session"`
	ReturnURL string `json:"return_url"`
}

// Validate enforces the required fields. user.login is optional and nullable.
func (p *ExchangePayload) Validate() error {
	if p.User.Email == "" {
		return fmt.Errorf("exchange payload missing user.email")
	}
	if p.Session.AccessToken == "" {
		return fmt.Errorf("exchange payload missing session.access_token")
	}
	if p.Session.RefreshToken == "" {
		return fmt.Errorf("exchange payload missing session.refresh_token")
	}
	if p.Session.ExpiresAt.IsZero() {
		return fmt.Errorf("exchange payload missing session.expires_at")
	}
	return nil
}

// ExchangeToken redeems a one-time exchange token for a full session payload.
// This endpoint does not require the relay API key: the exchange token itself
// is the credential.
func (c *Client) ExchangeToken(ctx context.Context, exchangeToken, callbackURL string) (*ExchangePayload, error) {
	body := map[string]string{
		"exchange_token": exchangeToken,
		"callback_url":   callbackURL,
	}

	resp, err := c.post(ctx, "/auth/exchange-token", false, body)
	if err != nil {
		return nil, &Error{Code: CodeSessionError, Status: http.StatusInternalServerError}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Code: CodeInvalidToken, Status: resp.StatusCode}
	}

	var payload ExchangePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Code: CodeInvalidData, Status: http.StatusInternalServerError}
	}
	if err := payload.Validate(); err != nil {
		log.LogWarnWithFields("relay", "Exchange payload failed validation", map[string]any{
			"error": err.Error(),
		})
		return nil, &Error{Code: CodeInvalidData, Status: http.StatusInternalServerError}
	}

	return &payload, nil
}

// ProjectInfo describes the relay-side project for this deployment
type ProjectInfo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Project fetches the relay's project info for this deployment
func (c *Client) Project(ctx context.Context) (*ProjectInfo, error) {
	resp, err := c.get(ctx, "/project")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch project: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch project: status %d", resp.StatusCode)
	}

	var info ProjectInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}
	return &info, nil
}

// ValidateGitHubUser asks the relay whether its SaaS-side membership admits a
// user that failed the direct collaborator check. On success the relay
// returns a one-time exchange token to redeem immediately.
func (c *Client) ValidateGitHubUser(ctx context.Context, providerToken, projectID string) (string, error) {
	body := map[string]string{
		"token":      providerToken,
		"project_id": projectID,
	}

	resp, err := c.post(ctx, "/auth/validate-github-user", true, body)
	if err != nil {
		return "", fmt.Errorf("failed to validate user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("validate user rejected: status %d", resp.StatusCode)
	}

	var payload struct {
		ExchangeToken string `json:"exchange_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.ExchangeToken == "" {
		return "", fmt.Errorf("validate user returned no exchange token")
	}

	return payload.ExchangeToken, nil
}

// RefreshSession exchanges a refresh token for a fresh session payload for
// relay-issued sessions.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*ExchangePayload, error) {
	body := map[string]string{"refresh_token": refreshToken}

	resp, err := c.post(ctx, "/auth/refresh", true, body)
	if err != nil {
		return nil, &Error{Code: CodeSessionError, Status: http.StatusInternalServerError}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Code: CodeInvalidToken, Status: resp.StatusCode}
	}

	var payload ExchangePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Code: CodeInvalidData, Status: http.StatusInternalServerError}
	}
	if err := payload.Validate(); err != nil {
		return nil, &Error{Code: CodeInvalidData, Status: http.StatusInternalServerError}
	}

	return &payload, nil
}

func (c *Client) post(ctx context.Context, path string, withKey bool, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if withKey {
		req.Header.Set("Authorization", "Bearer "+string(c.apiKey))
	}

	return c.http.DoWithContext(ctx, req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+string(c.apiKey))

	return c.http.DoWithContext(ctx, req)
}

// mapErrorResponse inspects a non-2xx relay response for a known error code.
// Unknown codes collapse to the fallback so relay internals stay private.
func mapErrorResponse(resp *http.Response, fallback *Error) *Error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && knownCodes[payload.Error] {
		return &Error{Code: payload.Error, Status: resp.StatusCode}
	}
	return fallback
}
