package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/staticms/authcore/internal/callback"
	"github.com/staticms/authcore/internal/config"
	"github.com/staticms/authcore/internal/github"
	"github.com/staticms/authcore/internal/log"
	"github.com/staticms/authcore/internal/login"
	"github.com/staticms/authcore/internal/relay"
	"github.com/staticms/authcore/internal/session"
)

// Server exposes the session-protocol HTTP surface: login initiation,
// callback exchange, refresh, user info, and sign-out.
type Server struct {
	cfg       *config.Config
	store     *session.Store
	initiator *login.Initiator
	exchanger *callback.Exchanger
	github    *github.Client
	relay     *relay.Client

	httpServer *http.Server
}

// New wires a server from resolved configuration
func New(cfg *config.Config) (*Server, error) {
	store, err := session.NewStore([]byte(cfg.SessionSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	var githubClient *github.Client
	if cfg.Modes.GitHub == config.ModeLocal {
		githubClient = github.NewClient(cfg.GitHubClientID, string(cfg.GitHubClientSecret), cfg.GitHubCallbackURL)
	}

	var relayClient *relay.Client
	if cfg.RelayAPIKey != "" {
		relayClient, err = relay.NewClient(cfg.RelayBaseURL, cfg.RelayAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay client: %w", err)
		}
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		initiator: login.NewInitiator(cfg, githubClient, relayClient),
		exchanger: callback.NewExchanger(cfg, store, githubClient, relayClient),
		github:    githubClient,
		relay:     relayClient,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, nil
}

// Handler builds the route table under the configured base path
func (s *Server) Handler() http.Handler {
	base := s.cfg.BasePath
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+base+"/login/{provider}", s.LoginHandler)
	mux.HandleFunc("GET "+base+"/login/google", s.GoogleLoginRedirectHandler)
	mux.HandleFunc("GET "+base+"/callback", s.CallbackHandler)
	mux.HandleFunc("GET "+base+"/callback/magic-link", s.MagicLinkCallbackHandler)
	mux.HandleFunc("POST "+base+"/refresh", s.RefreshHandler)
	mux.HandleFunc("GET "+base+"/user", s.UserHandler)
	mux.HandleFunc("POST "+base+"/signout", s.SignOutHandler)
	mux.HandleFunc("/", s.NotFoundHandler)

	return mux
}

// ListenAndServe runs the HTTP server until the context is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.LogInfoWithFields("server", "Listening", map[string]any{
			"addr":     s.cfg.ListenAddr,
			"basePath": s.cfg.BasePath,
		})
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
