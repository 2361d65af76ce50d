package handler

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumenchat/lumen-auth/internal/config"
	domainoauth "github.com/lumenchat/lumen-auth/internal/domain/oauth"
	"github.com/lumenchat/lumen-auth/internal/jwt"
	"github.com/lumenchat/lumen-auth/internal/oauth"
	"github.com/lumenchat/lumen-auth/internal/service"
)

// OAuthHandler serves the login, callback, and provider-listing endpoints.
type OAuthHandler struct {
	Manager  *oauth.Manager
	Accounts *service.AccountService
	Tokens   *jwt.Generator
	Config   config.Config
	Logger   *zap.Logger
}

// NewOAuthHandler creates the handler set.
func NewOAuthHandler(cfg config.Config, manager *oauth.Manager, accounts *service.AccountService, tokens *jwt.Generator, logger *zap.Logger) *OAuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &OAuthHandler{
		Manager:  manager,
		Accounts: accounts,
		Tokens:   tokens,
		Config:   cfg,
		Logger:   logger,
	}
}

// ListProviders exposes the configured provider names.
func (h *OAuthHandler) ListProviders(c *gin.Context) {
	names := h.Manager.AvailableProviders()
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"providers": names})
}

// Login initiates the OAuth flow and redirects to the provider.
func (h *OAuthHandler) Login(c *gin.Context) {
	providerName := c.Param("provider")

	if !h.Manager.IsConfigured(providerName) {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider_not_found", "error_description": "OAuth provider is not configured."})
		return
	}
	if !h.Config.EnableOAuthSignup {
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "OAuth authentication is disabled."})
		return
	}

	authURL, err := h.Manager.InitiateLogin(c.Request.Context(), providerName, c.Query("redirect_url"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Info("oauth login initiated", zap.String("provider", providerName))
	c.Redirect(http.StatusFound, authURL)
}

// Callback completes the flow: state consumption, code exchange, account
// resolution, session persistence, and the session cookie redirect.
func (h *OAuthHandler) Callback(c *gin.Context) {
	providerName := c.Param("provider")
	code := strings.TrimSpace(c.Query("code"))
	state := strings.TrimSpace(c.Query("state"))
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "code and state are required."})
		return
	}

	result, err := h.Manager.HandleCallback(c.Request.Context(), code, state)
	if err != nil {
		h.Logger.Error("oauth callback failed", zap.String("provider", providerName), zap.Error(err))
		h.respondError(c, err)
		return
	}

	// The state record is authoritative for which provider the attempt
	// belongs to; a path that disagrees is a forged or misrouted callback.
	if result.Provider != providerName {
		h.respondError(c, domainoauth.ErrProviderMismatch)
		return
	}

	user, err := h.Accounts.ResolveUser(c.Request.Context(), result.Provider, result.Identity)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.Accounts.SyncGroups(c.Request.Context(), user.ID, result.Identity); err != nil {
		h.Logger.Warn("oauth group sync failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	if err := h.Manager.CreateSession(c.Request.Context(), user.ID, result.Provider, result.Token); err != nil {
		h.respondError(c, err)
		return
	}

	sessionToken, err := h.Tokens.Generate(user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	secure := c.Request.TLS != nil
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     "token",
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	if h.Config.EnableIDTokenCookie && result.Token.IDToken != "" {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     "id_token",
			Value:    result.Token.IDToken,
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	h.Logger.Info("oauth login completed",
		zap.String("user_id", user.ID),
		zap.String("provider", result.Provider))

	c.Redirect(http.StatusFound, h.redirectURL(result.RedirectPath))
}

func (h *OAuthHandler) redirectURL(redirectPath string) string {
	base := strings.TrimRight(h.Config.FrontendBaseURL, "/")
	if redirectPath == "" || !strings.HasPrefix(redirectPath, "/") {
		return base + "/"
	}
	return base + redirectPath
}

// respondError maps domain sentinels onto OAuth-style error bodies without
// leaking upstream or storage internals.
func (h *OAuthHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domainoauth.ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "provider_not_found", "error_description": "OAuth provider is not configured."})
	case errors.Is(err, domainoauth.ErrInvalidState):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_state", "error_description": "Login state is invalid or expired. Start a new login."})
	case errors.Is(err, domainoauth.ErrProviderMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_request", "error_description": "Callback provider does not match the login attempt."})
	case errors.Is(err, domainoauth.ErrEmailMissing):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access_denied", "error_description": "Provider did not supply an email address."})
	case errors.Is(err, domainoauth.ErrEmailDomainNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "Email domain is not allowed."})
	case errors.Is(err, domainoauth.ErrSignupDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "OAuth signup is disabled. Contact administrator."})
	case errors.Is(err, domainoauth.ErrRoleForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "Your account does not have the required roles to access this application."})
	default:
		h.Logger.Error("oauth request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Authentication failed."})
	}
}
