// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinTokenSecretLength is the minimum HMAC secret size in bytes.
const MinTokenSecretLength = 32

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

// Token kinds.
const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

// Validate checks the configuration.
func (c TokenConfig) Validate() error {
	if len(c.Secret) < MinTokenSecretLength {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("min", MinTokenSecretLength).
			Errorf("token secret must be at least %d bytes", MinTokenSecretLength)
	}
	if c.Issuer == "" {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("token issuer is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("token lifetimes must be positive")
	}
	if c.Leeway < 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("token leeway cannot be negative")
	}
	return nil
}

// Claims are the signed contents of a token.
type Claims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// AccountID parses the subject claim.
func (c *Claims) AccountID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeTokenMalformed).Wrap(err)
	}
	return id, nil
}

// IssuedToken is a signed token and its identifying metadata.
type IssuedToken struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// Denylist records revoked token IDs until the tokens would have expired.
type Denylist interface {
	// Revoke adds jti for ttl. It reports false if jti was already revoked.
	Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenIssuer signs and validates HS256 session tokens.
type TokenIssuer struct {
	cfg      TokenConfig
	denylist Denylist
	clock    Clock
	parser   *jwt.Parser
}

// NewTokenIssuer creates an issuer. denylist may be nil, in which case
// tokens cannot be revoked before they expire.
func NewTokenIssuer(cfg TokenConfig, denylist Denylist, clock Clock) (*TokenIssuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	i := &TokenIssuer{cfg: cfg, denylist: denylist, clock: clock}
	i.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(clock.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	return i, nil
}

// IssueAccess signs a short-lived access token for id.
func (i *TokenIssuer) IssueAccess(id ulid.ULID) (IssuedToken, error) {
	return i.issue(id, TokenAccess, i.cfg.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token for id.
func (i *TokenIssuer) IssueRefresh(id ulid.ULID) (IssuedToken, error) {
	return i.issue(id, TokenRefresh, i.cfg.RefreshTTL)
}

func (i *TokenIssuer) issue(id ulid.ULID, kind TokenKind, ttl time.Duration) (IssuedToken, error) {
	now := i.clock.now()
	jti := ulid.Make().String()
	exp := now.Add(ttl)
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   id.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return IssuedToken{}, oops.Code("TOKEN_SIGN_FAILED").
			With("kind", string(kind)).
			Wrap(err)
	}
	return IssuedToken{Value: signed, ID: jti, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Validate verifies signature, issuer, expiry and kind, then consults the
// denylist. Failures carry one of TOKEN_EXPIRED, TOKEN_MALFORMED,
// TOKEN_BAD_SIGNATURE or TOKEN_REVOKED.
func (i *TokenIssuer) Validate(ctx context.Context, raw string, kind TokenKind) (*Claims, error) {
	if raw == "" {
		return nil, oops.Code(CodeTokenMalformed).Errorf("token is empty")
	}

	claims := &Claims{}
	if _, err := i.parser.ParseWithClaims(raw, claims, i.key); err != nil {
		return nil, classifyTokenError(err)
	}
	if claims.Kind != kind {
		return nil, oops.Code(CodeTokenMalformed).
			With("want", string(kind)).
			With("got", string(claims.Kind)).
			Errorf("unexpected token type")
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, oops.Code(CodeTokenMalformed).Errorf("token is missing jti or sub")
	}

	if i.denylist != nil {
		revoked, err := i.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, oops.Code("TOKEN_REVOCATION_CHECK_FAILED").
				With("jti", claims.ID).
				Wrap(err)
		}
		if revoked {
			return nil, oops.Code(CodeTokenRevoked).
				With("jti", claims.ID).
				Errorf("token has been revoked")
		}
	}
	return claims, nil
}

// Revoke denylists the token until its expiry. It reports false if the
// token was already revoked, which lets callers treat refresh tokens as
// single-use.
func (i *TokenIssuer) Revoke(ctx context.Context, claims *Claims) (bool, error) {
	if i.denylist == nil || claims.ExpiresAt == nil {
		return true, nil
	}
	ttl := claims.ExpiresAt.Sub(i.clock.now()) + i.cfg.Leeway
	if ttl <= 0 {
		return true, nil
	}
	fresh, err := i.denylist.Revoke(ctx, claims.ID, ttl)
	if err != nil {
		return false, oops.Code("TOKEN_REVOKE_FAILED").
			With("jti", claims.ID).
			Wrap(err)
	}
	return fresh, nil
}

// AccessTTL returns the access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// RefreshTTL returns the refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

func (i *TokenIssuer) key(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return i.cfg.Secret, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return oops.Code(CodeTokenExpired).Wrap(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return oops.Code(CodeTokenBadSignature).Wrap(err)
	default:
		return oops.Code(CodeTokenMalformed).Wrap(err)
	}
}
