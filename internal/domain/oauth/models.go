// Package oauth holds the shared OAuth/OIDC domain model: provider
// descriptors, token payloads, normalized identities, ephemeral login state,
// and encrypted session rows.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Descriptor is the immutable per-provider configuration. Constructed once at
// startup and shared read-only across requests.
type Descriptor struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	RedirectURI  string
	DiscoveryURL string
	// SubClaim overrides the claim used as the subject identifier ("sub" by default).
	SubClaim string
	// PictureURL, when set, replaces the picture claim for this provider.
	PictureURL string
}

// Discovery models the well-known OIDC discovery document.
type Discovery struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI               string   `json:"jwks_uri,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// TokenResponse is the raw token payload returned by a provider.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// UserInfo is the provider-agnostic identity. Claims carries the complete
// userinfo document so provider-specific attributes stay reachable by path.
type UserInfo struct {
	Sub           string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
	Locale        string
	Claims        map[string]any
}

// Claim walks a dot-separated path ("realm_access.roles") through the raw
// claim bag. A missing or non-object intermediate yields (nil, false), never
// an error.
func (u *UserInfo) Claim(path string) (any, bool) {
	var current any = u.Claims
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		key := path[start:i]
		start = i + 1
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// PKCE is a per-login-attempt verifier/challenge pair. Consumed exactly once
// at code-exchange time and never persisted.
type PKCE struct {
	CodeVerifier        string `json:"code_verifier"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

// GeneratePKCE creates an S256 challenge from 32 bytes of secure randomness.
func GeneratePKCE() (*PKCE, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf[:])
	sum := sha256.Sum256([]byte(verifier))
	return &PKCE{
		CodeVerifier:        verifier,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(sum[:]),
		CodeChallengeMethod: "S256",
	}, nil
}

// LoginState is the ephemeral anti-CSRF record stored between the login
// redirect and the provider callback, keyed by the OAuth state parameter.
type LoginState struct {
	Provider     string `json:"provider"`
	PKCE         *PKCE  `json:"pkce,omitempty"`
	RedirectPath string `json:"redirect_path,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// TokenData is the decrypted session token payload. It exists in memory only;
// at rest it lives inside Session.Token as a fernet blob.
type TokenData struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
	IssuedAt     int64  `json:"issued_at"`
	Scope        string `json:"scope,omitempty"`
}

// Session is the persisted row. Token holds the encrypted TokenData blob; at
// most one live session exists per (user, provider).
type Session struct {
	ID        string
	UserID    string
	Provider  string
	Token     string
	ExpiresAt int64
	CreatedAt int64
	UpdatedAt int64
}

// SessionWithToken pairs a row with its decrypted token payload.
type SessionWithToken struct {
	ID        string
	UserID    string
	Provider  string
	Token     TokenData
	ExpiresAt int64
	CreatedAt int64
	UpdatedAt int64
}

// SessionResponse is the API-facing view of a session, without token material.
type SessionResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Provider  string `json:"provider"`
	ExpiresAt int64  `json:"expires_at"`
}

// StringClaim coerces claim values that providers return as non-strings
// (GitHub's numeric "id", for one) into their string form.
func StringClaim(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		// Integral values arrive as float64 from encoding/json.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
