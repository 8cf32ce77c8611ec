package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/staticms/authcore/internal/callback"
	"github.com/staticms/authcore/internal/config"
	"github.com/staticms/authcore/internal/github"
	"github.com/staticms/authcore/internal/login"
	"github.com/staticms/authcore/internal/relay"
	"github.com/staticms/authcore/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer wires a Server directly against fake upstream handlers, skipping
// New so clients can point at httptest servers.
func testServer(t *testing.T, cfg *config.Config, githubHandler, relayHandler http.Handler) *Server {
	t.Helper()

	cfg.Resolve()
	store, err := session.NewStore([]byte(cfg.SessionSecret))
	require.NoError(t, err)

	var githubClient *github.Client
	if githubHandler != nil {
		upstream := httptest.NewServer(githubHandler)
		t.Cleanup(upstream.Close)
		githubClient = github.NewClient(cfg.GitHubClientID, string(cfg.GitHubClientSecret), cfg.GitHubCallbackURL,
			github.WithAPIBaseURL(upstream.URL),
			github.WithEndpoint(upstream.URL+"/authorize", upstream.URL+"/token"),
		)
	}

	var relayClient *relay.Client
	if relayHandler != nil {
		upstream := httptest.NewServer(relayHandler)
		t.Cleanup(upstream.Close)
		relayClient, err = relay.NewClient(upstream.URL, "relay-key")
		require.NoError(t, err)
	}

	return &Server{
		cfg:       cfg,
		store:     store,
		initiator: login.NewInitiator(cfg, githubClient, relayClient),
		exchanger: callback.NewExchanger(cfg, store, githubClient, relayClient),
		github:    githubClient,
		relay:     relayClient,
	}
}

func localGitHubConfig() *config.Config {
	return &config.Config{
		BaseURL:            "https://site.example.com",
		DashboardPath:      "/outstatic",
		SessionSecret:      "handler-secret",
		GitHubClientID:     "id",
		GitHubClientSecret: "secret",
		RepoOwner:          "acme",
		RepoSlug:           "site",
	}
}

func collaboratorGitHub() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "gh-access",
			"refresh_token": "gh-refresh",
			"token_type":    "bearer",
			"expires_in":    28800,
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"login": "octocat", "email": "octo@example.com"})
	})
	mux.HandleFunc("/repos/acme/site/collaborators/octocat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// loginAndCollectCookies runs the code callback and returns the cookies it set
func loginAndCollectCookies(t *testing.T, s *Server) []*http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback?code=abc", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	require.Equal(t, "https://site.example.com/outstatic", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func TestLoginHandler_LocalGitHub(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login/github", strings.NewReader(`{}`))
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["url"], "client_id=id")
}

func TestLoginHandler_EmptyBodyAllowed(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login/github", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginHandler_UnconfiguredProvider(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login/magic-link", strings.NewReader(`{"email":"a@b.c"}`))
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "auth-not-configured", body["error"])
}

func TestGoogleLoginRedirect_FailureRedirectsWithErrorParam(t *testing.T) {
	s := testServer(t, localGitHubConfig(), nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/login/google?returnUrl=https%3A%2F%2Fsite.example.com%2Foutstatic", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://site.example.com/outstatic?error=auth-not-configured", rec.Header().Get("Location"))
}

func TestGoogleLoginRedirect_Success(t *testing.T) {
	relayMux := http.NewServeMux()
	relayMux.HandleFunc("/auth/google-exchange", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://accounts.example.com/authorize"})
	})

	s := testServer(t, &config.Config{
		BaseURL:       "https://site.example.com",
		DashboardPath: "/outstatic",
		SessionSecret: "handler-secret",
		RelayAPIKey:   "relay-key",
	}, nil, relayMux)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/login/google", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://accounts.example.com/authorize", rec.Header().Get("Location"))
}

func TestCallbackHandler_CodeLoginSetsSessionCookies(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)
	cookies := loginAndCollectCookies(t, s)

	var names []string
	for _, c := range cookies {
		names = append(names, c.Name)
		assert.True(t, c.HttpOnly, "cookie %s must be http-only", c.Name)
	}
	assert.Contains(t, names, "authcore_session")
	assert.Contains(t, names, "authcore_refresh")
}

func TestCallbackHandler_ProviderError(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://site.example.com/outstatic?error=access_denied", rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestUserHandler(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)

	// No cookie: unauthorized
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// With a session: the payload never includes the refresh token
	cookies := loginAndCollectCookies(t, s)
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token"`)
	assert.NotContains(t, rec.Body.String(), "gh-refresh")

	var body struct {
		Session session.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "octocat", body.Session.User.Login)
}

func TestSignOutHandler(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/signout", nil))

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://site.example.com/outstatic", rec.Header().Get("Location"))
	for _, c := range rec.Result().Cookies() {
		assert.Less(t, c.MaxAge, 0, "cookie %s must be expired", c.Name)
	}
}

func TestRefreshHandler_NoSession(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false}`, rec.Body.String())
	assert.NotEmpty(t, rec.Result().Cookies(), "cookies must be cleared")
}

func TestRefreshHandler_LocalGitHubSession(t *testing.T) {
	s := testServer(t, localGitHubConfig(), collaboratorGitHub(), nil)
	cookies := loginAndCollectCookies(t, s)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	// Fresh cookies carry the rotated session
	readReq := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		readReq.AddCookie(c)
	}
	sess, err := s.store.Get(readReq)
	require.NoError(t, err)
	assert.Equal(t, "gh-access", sess.AccessToken)
	assert.Equal(t, session.ProviderGitHub, sess.Provider)
	assert.True(t, sess.ExpiresAt.After(time.Now()))
}

func TestRefreshHandler_RelaySessionKeepsProvider(t *testing.T) {
	relayMux := http.NewServeMux()
	relayMux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "ml-refresh", body["refresh_token"])
		json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]any{"login": "octocat", "email": "octo@example.com"},
			"session": map[string]any{
				"access_token":  "ml-access-2",
				"refresh_token": "ml-refresh-2",
				"expires_at":    time.Now().Add(time.Hour).Format(time.RFC3339),
			},
		})
	})

	cfg := &config.Config{
		BaseURL:       "https://site.example.com",
		DashboardPath: "/outstatic",
		SessionSecret: "handler-secret",
		RelayAPIKey:   "relay-key",
	}
	s := testServer(t, cfg, nil, relayMux)

	sess, err := session.New(
		session.User{Login: "octocat", Email: "octo@example.com"},
		session.ProviderMagicLink, "ml-access", "ml-refresh",
		time.Now().Add(-time.Minute), time.Time{}, time.Hour,
	)
	require.NoError(t, err)

	seed := httptest.NewRecorder()
	require.NoError(t, s.store.Set(seed, sess))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	for _, c := range seed.Result().Cookies() {
		req.AddCookie(c)
	}
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	readReq := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		readReq.AddCookie(c)
	}
	refreshed, err := s.store.Get(readReq)
	require.NoError(t, err)
	assert.Equal(t, "ml-access-2", refreshed.AccessToken)
	assert.Equal(t, "ml-refresh-2", refreshed.RefreshToken)
	assert.Equal(t, session.ProviderMagicLink, refreshed.Provider, "provider survives a relay refresh")
}

func TestRefreshHandler_UpstreamFailureClearsCookies(t *testing.T) {
	relayMux := http.NewServeMux()
	relayMux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	cfg := &config.Config{
		BaseURL:       "https://site.example.com",
		DashboardPath: "/outstatic",
		SessionSecret: "handler-secret",
		RelayAPIKey:   "relay-key",
	}
	s := testServer(t, cfg, nil, relayMux)

	sess, err := session.New(
		session.User{Login: "octocat", Email: "octo@example.com"},
		session.ProviderMagicLink, "ml-access", "ml-refresh",
		time.Now().Add(-time.Minute), time.Time{}, time.Hour,
	)
	require.NoError(t, err)
	seed := httptest.NewRecorder()
	require.NoError(t, s.store.Set(seed, sess))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	for _, c := range seed.Result().Cookies() {
		req.AddCookie(c)
	}
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false}`, rec.Body.String())

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "authcore_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "session cookie must be expired on irrecoverable failure")
}

func TestHandler_BasePathPrefix(t *testing.T) {
	cfg := localGitHubConfig()
	cfg.BasePath = "/api/auth"
	s := testServer(t, cfg, collaboratorGitHub(), nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login/github", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login/github", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UnmatchedRouteIsJSONNotFound(t *testing.T) {
	s := testServer(t, localGitHubConfig(), nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"])
}
