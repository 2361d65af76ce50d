// Package oauth owns the login/callback protocol: the provider registry,
// ephemeral anti-CSRF state, PKCE, claim policy, and refresh coordination.
package oauth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumenchat/lumen-auth/internal/config"
	domainoauth "github.com/lumenchat/lumen-auth/internal/domain/oauth"
	"github.com/lumenchat/lumen-auth/internal/provider"
	"github.com/lumenchat/lumen-auth/internal/session"
)

const defaultTokenLifetime = time.Hour

// Manager coordinates the configured providers through the authentication
// flow. The provider registry is populated once at construction and read-only
// afterwards; the state store carries the per-attempt mutable state.
type Manager struct {
	providers map[string]provider.Provider
	states    StateStore
	sessions  *session.Service
	cfg       config.Config
	logger    *zap.Logger

	now func() time.Time
}

// CallbackResult is what a completed callback hands to account resolution.
type CallbackResult struct {
	Provider     string
	Token        *domainoauth.TokenResponse
	Identity     *domainoauth.UserInfo
	RedirectPath string
}

// NewManager wires the orchestrator. providers must be fully initialized; a
// nil states store falls back to the in-memory implementation.
func NewManager(cfg config.Config, providers map[string]provider.Provider, states StateStore, sessions *session.Service, logger *zap.Logger) *Manager {
	if states == nil {
		states = NewMemoryStateStore()
	}
	if logger == nil {
		logger = zap.L()
	}
	if providers == nil {
		providers = map[string]provider.Provider{}
	}
	return &Manager{
		providers: providers,
		states:    states,
		sessions:  sessions,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// AvailableProviders lists the names of configured providers.
func (m *Manager) AvailableProviders() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Provider resolves a configured provider by name.
func (m *Manager) Provider(name string) (provider.Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, domainoauth.ErrProviderNotFound)
	}
	return p, nil
}

// IsConfigured reports whether a provider is registered.
func (m *Manager) IsConfigured(name string) bool {
	_, ok := m.providers[name]
	return ok
}

// InitiateLogin stores fresh login state (PKCE included when a challenge
// method is configured) and returns the provider's authorization URL.
func (m *Manager) InitiateLogin(ctx context.Context, providerName, redirectPath string) (string, error) {
	p, err := m.Provider(providerName)
	if err != nil {
		return "", err
	}

	state, err := generateState()
	if err != nil {
		return "", err
	}

	var pkce *domainoauth.PKCE
	if m.cfg.OAuthCodeChallengeMethod != "" {
		if pkce, err = domainoauth.GeneratePKCE(); err != nil {
			return "", err
		}
	}

	if err := m.states.Save(ctx, state, domainoauth.LoginState{
		Provider:     providerName,
		PKCE:         pkce,
		RedirectPath: redirectPath,
		CreatedAt:    m.now().Unix(),
	}); err != nil {
		return "", fmt.Errorf("store login state: %w", err)
	}

	authURL, err := p.AuthorizationURL(state, pkce)
	if err != nil {
		return "", err
	}

	m.logger.Debug("initiated oauth login", zap.String("provider", providerName))
	return authURL, nil
}

// HandleCallback consumes the state (exactly once), exchanges the code, and
// fetches the normalized identity. A replayed or expired state fails with
// ErrInvalidState.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	entry, err := m.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("consume login state: %w", err)
	}
	if entry == nil {
		return nil, domainoauth.ErrInvalidState
	}

	p, err := m.Provider(entry.Provider)
	if err != nil {
		return nil, err
	}

	var verifier string
	if entry.PKCE != nil {
		verifier = entry.PKCE.CodeVerifier
	}
	token, err := p.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, err
	}

	identity, err := p.UserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("oauth callback succeeded",
		zap.String("provider", entry.Provider),
		zap.String("sub", identity.Sub))

	return &CallbackResult{
		Provider:     entry.Provider,
		Token:        token,
		Identity:     identity,
		RedirectPath: entry.RedirectPath,
	}, nil
}

// CreateSession persists the token response as the user's (single) session
// for the provider.
func (m *Manager) CreateSession(ctx context.Context, userID, providerName string, token *domainoauth.TokenResponse) error {
	nowUnix := m.now().Unix()
	expiresAt := nowUnix + int64(defaultTokenLifetime/time.Second)
	if token.ExpiresIn > 0 {
		expiresAt = nowUnix + token.ExpiresIn
	}

	_, err := m.sessions.Create(ctx, userID, providerName, domainoauth.TokenData{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		IDToken:      token.IDToken,
		ExpiresIn:    token.ExpiresIn,
		ExpiresAt:    expiresAt,
		IssuedAt:     nowUnix,
		Scope:        token.Scope,
	})
	return err
}

// RefreshIfNeeded returns a usable token for the user/provider pair,
// refreshing when the session is inside the refresh horizon. Returns nil when
// no session exists or the refresh failed (the session is deleted in that
// case and the caller must re-authenticate).
func (m *Manager) RefreshIfNeeded(ctx context.Context, userID, providerName string) (*domainoauth.TokenData, error) {
	sess, err := m.sessions.GetByProviderAndUser(ctx, providerName, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	if !m.sessions.NeedsRefresh(sess) {
		return &sess.Token, nil
	}

	if sess.Token.RefreshToken == "" {
		// Best effort: hand back the possibly stale token rather than failing.
		m.logger.Warn("no refresh token available",
			zap.String("user_id", userID),
			zap.String("provider", providerName))
		return &sess.Token, nil
	}

	p, err := m.Provider(providerName)
	if err != nil {
		return nil, err
	}

	refreshed, err := p.RefreshToken(ctx, sess.Token.RefreshToken)
	if err != nil {
		m.logger.Error("token refresh failed, deleting session",
			zap.String("user_id", userID),
			zap.String("provider", providerName),
			zap.Error(err))
		if _, delErr := m.sessions.DeleteByID(ctx, sess.ID); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}

	nowUnix := m.now().Unix()
	expiresAt := nowUnix + int64(defaultTokenLifetime/time.Second)
	if refreshed.ExpiresIn > 0 {
		expiresAt = nowUnix + refreshed.ExpiresIn
	}

	token := domainoauth.TokenData{
		AccessToken:  refreshed.AccessToken,
		TokenType:    refreshed.TokenType,
		RefreshToken: refreshed.RefreshToken,
		IDToken:      refreshed.IDToken,
		ExpiresIn:    refreshed.ExpiresIn,
		ExpiresAt:    expiresAt,
		IssuedAt:     nowUnix,
		Scope:        refreshed.Scope,
	}
	// Some providers rotate the refresh token only occasionally; keep the
	// prior one when the response omits it.
	if token.RefreshToken == "" {
		token.RefreshToken = sess.Token.RefreshToken
	}

	if _, err := m.sessions.UpdateByID(ctx, sess.ID, token); err != nil {
		return nil, err
	}

	m.logger.Info("refreshed oauth token",
		zap.String("user_id", userID),
		zap.String("provider", providerName))
	return &token, nil
}

// AccessToken returns a valid access token, refreshing when needed. Empty
// means re-authentication is required.
func (m *Manager) AccessToken(ctx context.Context, userID, providerName string) (string, error) {
	token, err := m.RefreshIfNeeded(ctx, userID, providerName)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", nil
	}
	return token.AccessToken, nil
}
