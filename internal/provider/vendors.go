package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lumenchat/lumen-auth/internal/config"
	"github.com/lumenchat/lumen-auth/internal/domain/oauth"
)

// Vendor constructors return (nil, nil) when required configuration is
// absent: an unconfigured provider is disabled, not an error.

// NewGoogle builds the Google provider. Discovery is mandatory; a failed
// fetch fails provider initialization.
func NewGoogle(ctx context.Context, cfg config.GoogleConfig, client *http.Client, logger *zap.Logger) (Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, nil
	}

	desc := oauth.Descriptor{
		Name:         "google",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:       strings.Fields(cfg.Scope),
		RedirectURI:  cfg.RedirectURI,
		DiscoveryURL: "https://accounts.google.com/.well-known/openid-configuration",
	}
	return New(ctx, desc, client, logger, true)
}

// NewMicrosoft builds the tenant-scoped Microsoft provider. Discovery is
// attempted but a failure falls back to the templated endpoints.
func NewMicrosoft(ctx context.Context, cfg config.MicrosoftConfig, client *http.Client, logger *zap.Logger) (Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TenantID == "" {
		return nil, nil
	}

	desc := oauth.Descriptor{
		Name:         "microsoft",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthorizeURL: fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", cfg.LoginBaseURL, cfg.TenantID),
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", cfg.LoginBaseURL, cfg.TenantID),
		UserInfoURL:  "https://graph.microsoft.com/oidc/userinfo",
		Scopes:       strings.Fields(cfg.Scope),
		RedirectURI:  cfg.RedirectURI,
		DiscoveryURL: fmt.Sprintf("%s/%s/v2.0/.well-known/openid-configuration", cfg.LoginBaseURL, cfg.TenantID),
		PictureURL:   cfg.PictureURL,
	}
	return New(ctx, desc, client, logger, false)
}

// NewGitHub builds the GitHub provider. GitHub is plain OAuth 2.0: no
// discovery, and the subject claim is the numeric "id".
func NewGitHub(ctx context.Context, cfg config.GitHubConfig, client *http.Client, logger *zap.Logger) (Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, nil
	}

	desc := oauth.Descriptor{
		Name:         "github",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		UserInfoURL:  "https://api.github.com/user",
		Scopes:       strings.Fields(cfg.Scope),
		RedirectURI:  cfg.RedirectURI,
		SubClaim:     "id",
	}
	return New(ctx, desc, client, logger, false)
}

// NewOIDC builds the operator-configured generic OIDC provider. Every
// endpoint comes from the required discovery document.
func NewOIDC(ctx context.Context, cfg config.OIDCConfig, client *http.Client, logger *zap.Logger) (Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.ProviderURL == "" {
		return nil, nil
	}

	desc := oauth.Descriptor{
		Name:         cfg.ProviderName,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       strings.Fields(cfg.Scopes),
		RedirectURI:  cfg.RedirectURI,
		DiscoveryURL: cfg.ProviderURL,
		SubClaim:     cfg.SubClaim,
	}
	return New(ctx, desc, client, logger, true)
}

// NewFeishu builds the Feishu provider; its subject claim is "user_id".
func NewFeishu(ctx context.Context, cfg config.FeishuConfig, client *http.Client, logger *zap.Logger) (Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, nil
	}

	desc := oauth.Descriptor{
		Name:         "feishu",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthorizeURL: "https://open.feishu.cn/open-apis/authen/v1/authorize",
		TokenURL:     "https://open.feishu.cn/open-apis/authen/v2/oauth/token",
		UserInfoURL:  "https://open.feishu.cn/open-apis/authen/v1/user_info",
		Scopes:       strings.Fields(cfg.Scope),
		RedirectURI:  cfg.RedirectURI,
		SubClaim:     "user_id",
	}
	return New(ctx, desc, client, logger, false)
}
