package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the verified token claims the gateway cares about.
type Claims struct {
	Subject  string
	Audience string
	Issuer   string
	Expiry   time.Time
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Issuer   string // Expected "iss" claim
	Audience string // Expected "aud" claim
	JWKSURL  string // Key set endpoint
}

// Verifier validates bearer tokens against a single issuer/audience pair.
type Verifier struct {
	cfg    VerifierConfig
	keys   *KeySet
	parser *jwt.Parser
	logger *slog.Logger
}

// NewVerifier creates a Verifier with a fresh key cache.
func NewVerifier(cfg VerifierConfig, logger *slog.Logger) (*Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Issuer == "" || cfg.Audience == "" || cfg.JWKSURL == "" {
		return nil, fmt.Errorf("issuer, audience, and jwks url are required")
	}

	keys, err := NewKeySet(cfg.JWKSURL, logger)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)

	return &Verifier{
		cfg:    cfg,
		keys:   keys,
		parser: parser,
		logger: logger,
	}, nil
}

// Verify checks signature, expiry, issuer, and audience. On success it
// returns the token claims; every failure is an *AuthError and terminal
// for the connection attempt.
func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	keyfunc := func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, authErr(ReasonKeyNotFound, errors.New("token has no kid header"))
		}
		return v.keys.Key(ctx, kid)
	}

	var reg jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &reg, keyfunc)
	if err != nil {
		return Claims{}, classify(err)
	}

	audience := ""
	if len(reg.Audience) > 0 {
		audience = reg.Audience[0]
	}

	claims := Claims{
		Subject:  reg.Subject,
		Audience: audience,
		Issuer:   reg.Issuer,
	}
	if reg.ExpiresAt != nil {
		claims.Expiry = reg.ExpiresAt.Time
	}

	return claims, nil
}

// classify maps jwt parse errors onto the AuthError taxonomy.
func classify(err error) error {
	var authError *AuthError
	if errors.As(err, &authError) {
		return authError
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return authErr(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return authErr(ReasonBadSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return authErr(ReasonBadAudience, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return authErr(ReasonBadIssuer, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return authErr(ReasonMalformed, err)
	default:
		return authErr(ReasonMalformed, err)
	}
}
