// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth validates bearer tokens for the HTTP server.
//
// The JWT validator fetches the identity provider's JWKS once at
// construction and keeps it refreshed in the background, so key rotation
// needs no restart.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrInvalidToken is returned for tokens that fail signature or claim
// validation. The cause is wrapped for logs, never for clients.
var ErrInvalidToken = errors.New("invalid token")

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// Claims are the validated claims of an accepted token.
type Claims struct {
	// Subject identifies the user.
	Subject string

	// Email of the user, when the provider includes one.
	Email string

	// Custom holds every claim beyond the registered and extracted ones.
	Custom map[string]any
}

// Config configures a JWTValidator.
type Config struct {
	// JWKSURL is the provider's key set endpoint. Required.
	JWKSURL string

	// Issuer restricts accepted tokens to this issuer when set.
	Issuer string

	// Audience restricts accepted tokens to this audience when set.
	Audience string
}

// JWTValidator validates JWTs against a cached, auto-refreshed JWKS.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

var _ TokenValidator = (*JWTValidator)(nil)

// NewJWTValidator builds a validator and performs the initial JWKS fetch,
// failing fast on unreachable or malformed key sets.
func NewJWTValidator(ctx context.Context, cfg Config) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// ValidateToken verifies signature, expiry, and the configured issuer and
// audience, and extracts claims.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}

	registered := map[string]bool{
		"sub": true, "email": true,
		"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true, "jti": true,
	}
	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, _ := pair.Key.(string)
		if !registered[key] {
			claims.Custom[key] = pair.Value
		}
	}

	return claims, nil
}
