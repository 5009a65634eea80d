package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/TheMichaelB/booktu/internal/config"
	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/state"
	"github.com/TheMichaelB/booktu/internal/transport"
)

const sessionPath = "/auth/session"

// Service handles authentication operations.
type Service struct {
	transport transport.Transport
	store     state.Store
	logger    *events.Logger

	// Credentials from configuration, used when Login gets none.
	creds *config.AuthConfig

	mu    sync.Mutex
	token string
}

// NewService creates an auth service.
func NewService(transport transport.Transport, store state.Store, logger *events.Logger) *Service {
	return &Service{
		transport: transport,
		store:     store,
		logger:    logger.WithField("service", "auth"),
	}
}

// SetCredentials sets fallback credentials.
func (s *Service) SetCredentials(c *config.AuthConfig) {
	s.creds = c
}

// Login opens a session and stores its token.
func (s *Service) Login(ctx context.Context, login, password string) error {
	if s.creds != nil {
		if login == "" {
			login = s.creds.Login
		}
		if password == "" {
			password = s.creds.Password
		}
	}

	if strings.TrimSpace(login) == "" || password == "" {
		return fmt.Errorf("login and password required")
	}

	s.logger.WithField("login", login).Info("Logging in")

	var resp models.SessionResponse
	err := s.transport.PostJSON(ctx, sessionPath, models.SessionRequest{
		Login:    login,
		Password: password,
	}, &resp)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}

	if resp.Token == "" {
		return fmt.Errorf("invalid login response: missing token")
	}

	if err := state.SaveJSON(s.store, state.KeyAuthToken, resp.Token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	s.mu.Lock()
	s.token = resp.Token
	s.mu.Unlock()
	s.transport.SetToken(resp.Token)

	s.logger.Info("Login successful")
	return nil
}

// Logout forgets the stored token.
func (s *Service) Logout() error {
	s.logger.Info("Logging out")

	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	s.transport.SetToken("")

	if err := s.store.Delete(state.KeyAuthToken); err != nil {
		return fmt.Errorf("remove token: %w", &models.StorageError{Op: "delete", Key: state.KeyAuthToken, Err: err})
	}
	return nil
}

// Token returns the current token, loading it from storage and installing
// it on the transport when needed.
func (s *Service) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}

	var token string
	found, err := state.LoadJSON(s.store, state.KeyAuthToken, &token)
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	if !found || token == "" {
		return "", models.ErrNotAuthenticated
	}

	s.token = token
	s.transport.SetToken(token)
	return token, nil
}

// EnsureAuthenticated loads the stored token, logging in with configured
// credentials when there is none.
func (s *Service) EnsureAuthenticated(ctx context.Context) error {
	_, err := s.Token()
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotAuthenticated) {
		return err
	}

	if s.creds == nil || s.creds.Login == "" || s.creds.Password == "" {
		return models.ErrNotAuthenticated
	}
	return s.Login(ctx, "", "")
}
