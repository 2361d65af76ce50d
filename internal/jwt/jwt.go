// Package jwt signs and validates the locally issued session tokens carried
// by the auth cookie.
package jwt

import (
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// Generator signs session tokens with the service secret key (HS256).
type Generator struct {
	secret    []byte
	expiresIn time.Duration

	now func() time.Time
}

// NewGenerator constructs a token generator.
func NewGenerator(secretKey string, expiresIn time.Duration) *Generator {
	return &Generator{secret: []byte(secretKey), expiresIn: expiresIn, now: time.Now}
}

// Generate produces a signed session token for the user.
func (g *Generator) Generate(userID string) (string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: g.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := g.now().UTC()
	claims := gojwt.Claims{
		Subject:  userID,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(g.expiresIn)),
	}

	token, err := gojwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// Validate verifies the signature and expiry and returns the subject.
func (g *Generator) Validate(token string) (string, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	var claims gojwt.Claims
	if err := parsed.Claims(g.secret, &claims); err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if err := claims.Validate(gojwt.Expected{Time: g.now()}); err != nil {
		return "", fmt.Errorf("validate claims: %w", err)
	}
	return claims.Subject, nil
}
