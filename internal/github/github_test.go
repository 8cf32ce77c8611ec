package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func fakeAPI(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("client-id", "client-secret", "",
		WithAPIBaseURL(server.URL),
		WithEndpoint(server.URL+"/authorize", server.URL+"/token"),
	)
	return client, server
}

func TestAuthURL(t *testing.T) {
	client := NewClient("client-id", "client-secret", "https://site.example.com/api/callback")
	url := client.AuthURL("")

	assert.Contains(t, url, "github.com")
	assert.Contains(t, url, "client_id=client-id")
	assert.Contains(t, url, "redirect_uri=")
}

func TestAuthURL_OmitsRedirectURIWhenUnset(t *testing.T) {
	client := NewClient("client-id", "client-secret", "")
	url := client.AuthURL("")

	assert.NotContains(t, url, "redirect_uri")
}

func TestExchangeCode(t *testing.T) {
	client, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "gho_access",
			"refresh_token": "ghr_refresh",
			"token_type":    "bearer",
			"expires_in":    28800,
		})
	})

	token, err := client.ExchangeCode(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "gho_access", token.AccessToken)
	assert.Equal(t, "ghr_refresh", token.RefreshToken)
	assert.False(t, token.Expiry.IsZero())
}

func TestUserInfo_ProfileEmail(t *testing.T) {
	client, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"login":      "octocat",
			"name":       "The Octocat",
			"email":      "octocat@example.com",
			"avatar_url": "https://avatars.example.com/octocat.png",
		})
	})

	user, err := client.UserInfo(context.Background(), &oauth2.Token{AccessToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, "octocat@example.com", user.Email)
	assert.Equal(t, "https://avatars.example.com/octocat.png", user.AvatarURL)
}

func TestUserInfo_PrivateEmailFetchedFromEmailsAPI(t *testing.T) {
	client, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			json.NewEncoder(w).Encode(map[string]any{"login": "octocat"})
		case "/user/emails":
			json.NewEncoder(w).Encode([]map[string]any{
				{"email": "secondary@example.com", "primary": false, "verified": true},
				{"email": "primary@example.com", "primary": true, "verified": true},
			})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	})

	user, err := client.UserInfo(context.Background(), &oauth2.Token{AccessToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "primary@example.com", user.Email)
}

func TestIsCollaborator(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{"collaborator", http.StatusNoContent, true, false},
		{"not_collaborator", http.StatusNotFound, false, false},
		{"provider_error", http.StatusInternalServerError, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/repos/acme/site/collaborators/octocat", r.URL.Path)
				w.WriteHeader(tt.status)
			})

			got, err := client.IsCollaborator(context.Background(), &oauth2.Token{AccessToken: "tok"}, "acme", "site", "octocat")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefresh(t *testing.T) {
	var gotGrant string
	client, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotGrant = r.Form.Get("grant_type")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "gho_new",
			"token_type":   "bearer",
			"expires_in":   28800,
		})
	})

	token, err := client.Refresh(context.Background(), "ghr_refresh")
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "gho_new", token.AccessToken)
}
