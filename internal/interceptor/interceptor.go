package interceptor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/staticms/authcore/internal/log"
	"github.com/staticms/authcore/internal/session"
)

// Scheme is the credential header style of the upstream API
type Scheme string

const (
	// SchemeToken is the git-hosting API's `token <credential>` header
	SchemeToken Scheme = "token"

	// SchemeBearer is the relay/application API's `Bearer <credential>` header
	SchemeBearer Scheme = "Bearer"
)

// Refresher is the coordinator subset the transport needs
type Refresher interface {
	Refresh(ctx context.Context) (*session.Session, error)
}

// Transport wraps outbound authenticated requests. When the first attempt
// fails with an authorization error it refreshes the credential through the
// coordinator and retries the original call exactly once. Any further
// failure propagates the original outcome unmodified.
type Transport struct {
	base      http.RoundTripper
	refresher Refresher
	scheme    Scheme

	mu          sync.RWMutex
	accessToken string
}

// NewTransport creates an authenticated transport
func NewTransport(base http.RoundTripper, refresher Refresher, scheme Scheme, accessToken string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:        base,
		refresher:   refresher,
		scheme:      scheme,
		accessToken: accessToken,
	}
}

// SetToken swaps the held credential, e.g. after a new login
func (t *Transport) SetToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessToken = token
}

func (t *Transport) token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accessToken
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	attempt.Header.Set("Authorization", string(t.scheme)+" "+t.token())

	resp, err := t.base.RoundTrip(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}

	// Requests with a non-replayable body cannot be retried
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	// Buffer the original response so it can still be returned unmodified
	// if the retry does not pan out.
	original, err := bufferResponse(resp)
	if err != nil {
		return resp, nil
	}

	sess, err := t.refresher.Refresh(req.Context())
	if err != nil {
		log.LogDebugWithFields("interceptor", "Refresh failed; returning original response", map[string]any{
			"status": original.StatusCode,
			"error":  err.Error(),
		})
		return original, nil
	}
	t.SetToken(sess.AccessToken)

	retry, err := cloneRequest(req)
	if err != nil {
		return original, nil
	}
	retry.Header.Set("Authorization", string(t.scheme)+" "+t.token())

	retryResp, err := t.base.RoundTrip(retry)
	if err != nil {
		return original, nil
	}
	if retryResp.StatusCode == http.StatusUnauthorized || retryResp.StatusCode == http.StatusForbidden {
		// Two strikes: surface the first failure, not the second
		retryResp.Body.Close()
		return original, nil
	}

	original.Body.Close()
	return retryResp, nil
}

// cloneRequest shallow-copies a request with a fresh body reader so each
// attempt sends the full payload.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

// bufferResponse reads a response fully into memory so the body survives a
// later return after a retry attempt.
func bufferResponse(resp *http.Response) (*http.Response, error) {
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}
