package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumenchat/lumen-auth/internal/config"
	"github.com/lumenchat/lumen-auth/internal/domain/oauth"
)

// idpServer is a stub identity provider with discovery, token, and userinfo
// endpoints.
type idpServer struct {
	*httptest.Server

	tokenResponse  map[string]any
	tokenStatus    int
	userinfoClaims map[string]any
	lastTokenForm  url.Values
	lastAuthHeader string
}

func newIDPServer(t *testing.T) *idpServer {
	t.Helper()

	s := &idpServer{
		tokenStatus: http.StatusOK,
		tokenResponse: map[string]any{
			"access_token":  "upstream-access",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "upstream-refresh",
			"id_token":      "upstream-id",
		},
		userinfoClaims: map[string]any{
			"sub":   "subject-1",
			"email": "user@example.com",
			"name":  "Upstream User",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oauth.Discovery{
			Issuer:                s.URL,
			AuthorizationEndpoint: s.URL + "/authorize",
			TokenEndpoint:         s.URL + "/token",
			UserinfoEndpoint:      s.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		s.lastTokenForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.tokenStatus)
		_ = json.NewEncoder(w).Encode(s.tokenResponse)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		s.lastAuthHeader = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.userinfoClaims)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *idpServer) descriptor(name string) oauth.Descriptor {
	return oauth.Descriptor{
		Name:         name,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthorizeURL: s.URL + "/authorize",
		TokenURL:     s.URL + "/token",
		UserInfoURL:  s.URL + "/userinfo",
		Scopes:       []string{"openid", "email"},
		RedirectURI:  "https://app.test/oauth/test/callback",
	}
}

func TestDiscoveryResolvesEndpoints(t *testing.T) {
	idp := newIDPServer(t)

	desc := oauth.Descriptor{
		Name:         "sso",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.test/cb",
		DiscoveryURL: idp.URL + "/.well-known/openid-configuration",
	}
	p, err := New(context.Background(), desc, idp.Client(), zap.NewNop(), true)
	require.NoError(t, err)

	cfg := p.Config()
	require.Equal(t, idp.URL+"/authorize", cfg.AuthorizeURL)
	require.Equal(t, idp.URL+"/token", cfg.TokenURL)
	require.Equal(t, idp.URL+"/userinfo", cfg.UserInfoURL)
}

func TestDiscoveryRequiredFailureIsFatal(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	desc := oauth.Descriptor{
		Name:         "sso",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		DiscoveryURL: failing.URL + "/.well-known/openid-configuration",
	}
	_, err := New(context.Background(), desc, failing.Client(), zap.NewNop(), true)
	require.Error(t, err)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusInternalServerError, upstream.Status)
}

func TestDiscoveryOptionalFailureFallsBack(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(failing.Close)

	desc := oauth.Descriptor{
		Name:         "microsoft",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthorizeURL: "https://preset.test/authorize",
		TokenURL:     "https://preset.test/token",
		DiscoveryURL: failing.URL + "/.well-known/openid-configuration",
	}
	p, err := New(context.Background(), desc, failing.Client(), zap.NewNop(), false)
	require.NoError(t, err)
	require.Equal(t, "https://preset.test/authorize", p.Config().AuthorizeURL)
	require.Equal(t, "https://preset.test/token", p.Config().TokenURL)
}

func TestAuthorizationURL(t *testing.T) {
	idp := newIDPServer(t)
	p, err := New(context.Background(), idp.descriptor("test"), idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	pkce, err := oauth.GeneratePKCE()
	require.NoError(t, err)

	raw, err := p.AuthorizationURL("state-abc", pkce)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "state-abc", q.Get("state"))
	require.Equal(t, "openid email", q.Get("scope"))
	require.Equal(t, pkce.CodeChallenge, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
}

func TestExchangeCodeSendsForm(t *testing.T) {
	idp := newIDPServer(t)
	p, err := New(context.Background(), idp.descriptor("test"), idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	token, err := p.ExchangeCode(context.Background(), "auth-code", "verifier-xyz")
	require.NoError(t, err)
	require.Equal(t, "upstream-access", token.AccessToken)
	require.Equal(t, "upstream-refresh", token.RefreshToken)
	require.Equal(t, int64(3600), token.ExpiresIn)

	form := idp.lastTokenForm
	require.Equal(t, "authorization_code", form.Get("grant_type"))
	require.Equal(t, "auth-code", form.Get("code"))
	require.Equal(t, "client-id", form.Get("client_id"))
	require.Equal(t, "client-secret", form.Get("client_secret"))
	require.Equal(t, "verifier-xyz", form.Get("code_verifier"))
	require.Equal(t, "https://app.test/oauth/test/callback", form.Get("redirect_uri"))
}

func TestExchangeCodeWithoutVerifierOmitsField(t *testing.T) {
	idp := newIDPServer(t)
	p, err := New(context.Background(), idp.descriptor("test"), idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "auth-code", "")
	require.NoError(t, err)
	_, present := idp.lastTokenForm["code_verifier"]
	require.False(t, present)
}

func TestExchangeCodeUpstreamError(t *testing.T) {
	idp := newIDPServer(t)
	idp.tokenStatus = http.StatusBadRequest
	idp.tokenResponse = map[string]any{"error": "invalid_grant"}

	p, err := New(context.Background(), idp.descriptor("test"), idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "bad-code", "")
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusBadRequest, upstream.Status)
	require.Contains(t, upstream.Body, "invalid_grant")
	require.Equal(t, "token exchange", upstream.Operation)
}

func TestExchangeCodeMissingAccessToken(t *testing.T) {
	idp := newIDPServer(t)
	idp.tokenResponse = map[string]any{"token_type": "Bearer"}

	p, err := New(context.Background(), idp.descriptor("test"), idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "code", "")
	require.Error(t, err)
}

func TestRefreshTokenSendsForm(t *testing.T) {
	idp := newIDPServer(t)
	p, err := New(context.Background(), idp.descriptor("test"), idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	_, err = p.RefreshToken(context.Background(), "refresh-old")
	require.NoError(t, err)

	form := idp.lastTokenForm
	require.Equal(t, "refresh_token", form.Get("grant_type"))
	require.Equal(t, "refresh-old", form.Get("refresh_token"))
}

func TestUserInfoNormalization(t *testing.T) {
	idp := newIDPServer(t)
	idp.userinfoClaims = map[string]any{
		"sub":            "subject-1",
		"email":          "user@example.com",
		"email_verified": true,
		"name":           "Upstream User",
		"given_name":     "Upstream",
		"picture":        "https://img.test/avatar.png",
		"realm_access":   map[string]any{"roles": []any{"admin"}},
	}

	p, err := New(context.Background(), idp.descriptor("test"), idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	info, err := p.UserInfo(context.Background(), "bearer-token")
	require.NoError(t, err)
	require.Equal(t, "Bearer bearer-token", idp.lastAuthHeader)
	require.Equal(t, "subject-1", info.Sub)
	require.Equal(t, "user@example.com", info.Email)
	require.True(t, info.EmailVerified)
	require.Equal(t, "https://img.test/avatar.png", info.Picture)

	roles, ok := info.Claim("realm_access.roles")
	require.True(t, ok)
	require.Equal(t, []any{"admin"}, roles)
}

func TestUserInfoSubClaimOverrideNumericID(t *testing.T) {
	idp := newIDPServer(t)
	idp.userinfoClaims = map[string]any{
		"id":         float64(8845123),
		"login":      "octocat",
		"email":      "octocat@example.com",
		"avatar_url": "https://img.test/octocat.png",
	}

	desc := idp.descriptor("github")
	desc.SubClaim = "id"
	p, err := New(context.Background(), desc, idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	info, err := p.UserInfo(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "8845123", info.Sub)
	require.Equal(t, "https://img.test/octocat.png", info.Picture, "avatar_url is the picture fallback")
}

func TestUserInfoPictureURLOverride(t *testing.T) {
	idp := newIDPServer(t)

	desc := idp.descriptor("microsoft")
	desc.PictureURL = "https://graph.test/me/photo"
	p, err := New(context.Background(), desc, idp.Client(), zap.NewNop(), false)
	require.NoError(t, err)

	info, err := p.UserInfo(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "https://graph.test/me/photo", info.Picture)
}

func TestVendorConstructorsDisabledWhenUnconfigured(t *testing.T) {
	ctx := context.Background()

	p, err := NewGoogle(ctx, config.GoogleConfig{}, nil, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = NewMicrosoft(ctx, config.MicrosoftConfig{ClientID: "id", ClientSecret: "secret"}, nil, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, p, "microsoft requires a tenant id")

	p, err = NewOIDC(ctx, config.OIDCConfig{ClientID: "id", ClientSecret: "secret"}, nil, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, p, "generic oidc requires a provider url")
}

func TestNewGitHubUsesIDSubClaim(t *testing.T) {
	p, err := NewGitHub(context.Background(), config.GitHubConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		Scope:        "user:email",
	}, nil, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "github", p.Name())
	require.Equal(t, "id", p.Config().SubClaim)
	require.Empty(t, p.Config().DiscoveryURL)
}

func TestBuildRegistryEmptyConfig(t *testing.T) {
	registry, err := BuildRegistry(context.Background(), config.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, registry)
}

func TestUpstreamErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &UpstreamError{Provider: "google", Operation: "discovery", Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "discovery")
}
