// Package provider implements the outbound half of the OAuth flow: one
// HTTP-backed Provider parameterized per vendor, plus OIDC endpoint
// discovery.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumenchat/lumen-auth/internal/domain/oauth"
)

const maxResponseBytes = 1 << 20

// Provider is the capability surface the orchestrator needs from a vendor.
type Provider interface {
	Name() string
	Config() *oauth.Descriptor
	AuthorizationURL(state string, pkce *oauth.PKCE) (string, error)
	ExchangeCode(ctx context.Context, code, pkceVerifier string) (*oauth.TokenResponse, error)
	UserInfo(ctx context.Context, accessToken string) (*oauth.UserInfo, error)
	RefreshToken(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error)
}

// UpstreamError carries the provider's HTTP status and body for diagnosis.
type UpstreamError struct {
	Provider  string
	Operation string
	Status    int
	Body      string
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Provider, e.Operation, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

type httpProvider struct {
	config oauth.Descriptor
	client *http.Client
	logger *zap.Logger
}

// New constructs a Provider from a descriptor. When the descriptor names a
// discovery URL the endpoints are resolved from it; requireDiscovery controls
// whether a failed fetch is fatal or falls back to the preset endpoints.
func New(ctx context.Context, desc oauth.Descriptor, client *http.Client, logger *zap.Logger, requireDiscovery bool) (Provider, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.L()
	}
	p := &httpProvider{config: desc, client: client, logger: logger.With(zap.String("provider", desc.Name))}

	if desc.DiscoveryURL != "" {
		if err := p.discover(ctx, desc.DiscoveryURL); err != nil {
			if requireDiscovery {
				return nil, err
			}
			p.logger.Warn("oidc discovery failed, using preset endpoints", zap.Error(err))
		}
	}
	return p, nil
}

func (p *httpProvider) Name() string { return p.config.Name }

func (p *httpProvider) Config() *oauth.Descriptor { return &p.config }

func (p *httpProvider) discover(ctx context.Context, discoveryURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return fmt.Errorf("build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &UpstreamError{Provider: p.config.Name, Operation: "discovery", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &UpstreamError{Provider: p.config.Name, Operation: "discovery", Err: err}
	}
	if resp.StatusCode >= 300 {
		return &UpstreamError{Provider: p.config.Name, Operation: "discovery", Status: resp.StatusCode, Body: string(body)}
	}

	var doc oauth.Discovery
	if err := json.Unmarshal(body, &doc); err != nil {
		return &UpstreamError{Provider: p.config.Name, Operation: "discovery", Err: fmt.Errorf("decode document: %w", err)}
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return &UpstreamError{Provider: p.config.Name, Operation: "discovery", Err: fmt.Errorf("document missing endpoints")}
	}

	p.config.AuthorizeURL = doc.AuthorizationEndpoint
	p.config.TokenURL = doc.TokenEndpoint
	if doc.UserinfoEndpoint != "" {
		p.config.UserInfoURL = doc.UserinfoEndpoint
	}
	p.logger.Info("oidc discovery succeeded", zap.String("issuer", doc.Issuer))
	return nil
}

func (p *httpProvider) AuthorizationURL(state string, pkce *oauth.PKCE) (string, error) {
	u, err := url.Parse(p.config.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}

	params := u.Query()
	params.Set("client_id", p.config.ClientID)
	params.Set("redirect_uri", p.config.RedirectURI)
	params.Set("response_type", "code")
	params.Set("state", state)
	params.Set("scope", strings.Join(p.config.Scopes, " "))
	if pkce != nil {
		params.Set("code_challenge", pkce.CodeChallenge)
		params.Set("code_challenge_method", pkce.CodeChallengeMethod)
	}
	u.RawQuery = params.Encode()

	return u.String(), nil
}

func (p *httpProvider) ExchangeCode(ctx context.Context, code, pkceVerifier string) (*oauth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.config.RedirectURI)
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret)
	if pkceVerifier != "" {
		form.Set("code_verifier", pkceVerifier)
	}
	return p.tokenRequest(ctx, "token exchange", form)
}

func (p *httpProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret)
	return p.tokenRequest(ctx, "token refresh", form)
}

func (p *httpProvider) tokenRequest(ctx context.Context, operation string, form url.Values) (*oauth.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: operation, Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: operation, Status: resp.StatusCode, Body: string(body)}
	}

	var token oauth.TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: operation, Err: fmt.Errorf("decode response: %w", err)}
	}
	if token.AccessToken == "" {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: operation, Status: resp.StatusCode, Body: string(body), Err: fmt.Errorf("response missing access_token")}
	}
	return &token, nil
}

func (p *httpProvider) UserInfo(ctx context.Context, accessToken string) (*oauth.UserInfo, error) {
	if p.config.UserInfoURL == "" {
		return nil, fmt.Errorf("provider %s has no userinfo endpoint", p.config.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: "userinfo", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: "userinfo", Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: "userinfo", Status: resp.StatusCode, Body: string(body)}
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, &UpstreamError{Provider: p.config.Name, Operation: "userinfo", Err: fmt.Errorf("decode response: %w", err)}
	}

	return p.normalize(claims), nil
}

// normalize maps the raw claim document onto the provider-agnostic identity,
// honoring the per-vendor subject-claim override.
func (p *httpProvider) normalize(claims map[string]any) *oauth.UserInfo {
	info := &oauth.UserInfo{Claims: claims}

	subClaim := p.config.SubClaim
	if subClaim == "" {
		subClaim = "sub"
	}
	info.Sub = oauth.StringClaim(claims[subClaim])

	info.Email = oauth.StringClaim(claims["email"])
	if verified, ok := claims["email_verified"].(bool); ok {
		info.EmailVerified = verified
	}
	info.Name = oauth.StringClaim(claims["name"])
	info.GivenName = oauth.StringClaim(claims["given_name"])
	info.FamilyName = oauth.StringClaim(claims["family_name"])
	info.Locale = oauth.StringClaim(claims["locale"])

	if p.config.PictureURL != "" {
		info.Picture = p.config.PictureURL
	} else if pic, ok := claims["picture"]; ok {
		info.Picture = oauth.StringClaim(pic)
	} else if pic, ok := claims["avatar_url"]; ok {
		info.Picture = oauth.StringClaim(pic)
	}

	return info
}
