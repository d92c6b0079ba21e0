package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/cadenza/internal/shared"
)

// Session identifies the signed-in user.
type Session struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
}

// AuthService looks up the current session on the hosted backend's auth endpoint.
type AuthService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	logger     *log.Logger
}

// NewAuthService creates an auth service. Session lookups give up after timeout.
func NewAuthService(baseURL, apiKey string, client *http.Client, timeout time.Duration, logger *log.Logger) *AuthService {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuthService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
		timeout:    timeout,
		logger:     shared.WithLogger(logger, "component", "auth"),
	}
}

// CurrentSession returns the user owning accessToken.
//
// A missing, rejected or slow token yields a nil session and no error, so callers fall back to
// signed-out behaviour instead of hanging.
func (a *AuthService) CurrentSession(ctx context.Context, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", a.apiKey)
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("session lookup timed out, continuing signed out", "timeout", a.timeout)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: session lookup: %v", shared.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		a.logger.Info("access token rejected, continuing signed out", "status", resp.StatusCode)
		return nil, nil
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: session lookup returned %d: %s", shared.ErrBackendUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if session.UserID == "" {
		return nil, nil
	}
	return &session, nil
}

// ResolveUser picks the user to act as: the session's user when accessToken resolves, otherwise
// fallback.
func (a *AuthService) ResolveUser(ctx context.Context, accessToken, fallback string) (string, error) {
	session, err := a.CurrentSession(ctx, accessToken)
	if err != nil {
		return "", err
	}
	if session == nil {
		if fallback == "" {
			return "", shared.ErrNotAuthenticated
		}
		return fallback, nil
	}
	return session.UserID, nil
}
