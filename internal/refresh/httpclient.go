package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/staticms/authcore/internal/session"
)

// HTTPClient implements Client against the service's own refresh and
// user-info endpoints. The http.Client must carry a cookie jar so the
// refresh cookie identifies the caller.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a refresh client rooted at baseURL (including any
// base path prefix).
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, http: httpClient}
}

// Refresh posts to the refresh endpoint. No body is required: the refresh
// cookie carries the caller's identity.
func (c *HTTPClient) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refresh", nil)
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh rejected: status %d", resp.StatusCode)
	}

	var payload struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if !payload.Success {
		return fmt.Errorf("refresh reported failure")
	}
	return nil
}

// FetchSession fetches the now-updated session from the user-info endpoint
func (c *HTTPClient) FetchSession(ctx context.Context) (*session.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user fetch rejected: status %d", resp.StatusCode)
	}

	var payload struct {
		Session *session.Session `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if payload.Session == nil {
		return nil, fmt.Errorf("user response carried no session")
	}
	return payload.Session, nil
}
