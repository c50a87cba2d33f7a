// Package auth issues and verifies the bearer tokens that carry a FieldWatch
// actor: the subject is the user ID and the role claim selects the farmer or
// admin side of the milestone workflow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fieldwatch/internal/config"
	"fieldwatch/internal/types"
)

// DefaultTokenTTL is the lifetime of tokens minted by Issue when no TTL is
// given.
const DefaultTokenTTL = 24 * time.Hour

// Claims is the JWT payload.
type Claims struct {
	Role types.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 tokens.
type TokenService struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewTokenService fails when no signing secret is configured so the API
// refuses to start rather than accepting unsigned traffic.
func NewTokenService(cfg config.AuthConfig) (*TokenService, error) {
	secret := cfg.JWTSecret.Unmask()
	if secret == "" {
		return nil, &types.ConfigurationError{Service: "auth", Setting: "JWT_SECRET"}
	}
	return &TokenService{
		secret: []byte(secret),
		issuer: cfg.Issuer,
		leeway: cfg.ClockSkew,
		now:    time.Now,
	}, nil
}

// Issue mints a token for actor. It is used by operator tooling and tests;
// production tokens come from the identity provider sharing the secret.
func (s *TokenService) Issue(actor types.Actor, ttl time.Duration) (string, error) {
	if actor.ID == "" || !actor.Role.Valid() {
		return "", fmt.Errorf("auth: cannot issue token for actor %q with role %q", actor.ID, actor.Role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ResolveToken verifies the signature, issuer and expiry of token and returns
// the actor it names.
func (s *TokenService) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
	case err != nil:
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token could not be verified", err)
	}

	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	if !claims.Role.Valid() {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, fmt.Sprintf("unknown role %q", claims.Role), nil)
	}
	return &types.Actor{ID: claims.Subject, Role: claims.Role}, nil
}
