// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/auth/mocks"
	"github.com/mrcsystems/mrcauth/internal/revocation"
	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

func newTestIssuer(t *testing.T, clock *fakeClock, denylist auth.Denylist) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(testTokenConfig(), denylist, clock.Now)
	require.NoError(t, err)
	return issuer
}

func TestTokenConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*auth.TokenConfig)
	}{
		{"short secret", func(c *auth.TokenConfig) { c.Secret = []byte("short") }},
		{"missing issuer", func(c *auth.TokenConfig) { c.Issuer = "" }},
		{"zero access ttl", func(c *auth.TokenConfig) { c.AccessTTL = 0 }},
		{"zero refresh ttl", func(c *auth.TokenConfig) { c.RefreshTTL = 0 }},
		{"negative leeway", func(c *auth.TokenConfig) { c.Leeway = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testTokenConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "TOKEN_CONFIG_INVALID")
		})
	}
	assert.NoError(t, testTokenConfig().Validate())
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock, nil)
	id := ulid.Make()

	access, err := issuer.IssueAccess(id)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(8*time.Hour), access.ExpiresAt)
	assert.NotEmpty(t, access.ID)

	claims, err := issuer.Validate(ctx, access.Value, auth.TokenAccess)
	require.NoError(t, err)
	got, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, access.ID, claims.ID)
	assert.Equal(t, "mrcauth-test", claims.Issuer)

	refresh, err := issuer.IssueRefresh(id)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(30*24*time.Hour), refresh.ExpiresAt)
	_, err = issuer.Validate(ctx, refresh.Value, auth.TokenRefresh)
	require.NoError(t, err)
}

func TestTokenIssuer_ValidateFailures(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	issuer := newTestIssuer(t, clock, nil)
	id := ulid.Make()

	access, err := issuer.IssueAccess(id)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		c := newFakeClock()
		iss := newTestIssuer(t, c, nil)
		tok, err := iss.IssueAccess(id)
		require.NoError(t, err)
		c.Advance(8*time.Hour + time.Second)
		_, err = iss.Validate(ctx, tok.Value, auth.TokenAccess)
		errutil.AssertErrorCode(t, err, auth.CodeTokenExpired)
	})

	t.Run("tampered signature", func(t *testing.T) {
		parts := strings.Split(access.Value, ".")
		require.Len(t, parts, 3)
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		tampered := parts[0] + "." + parts[1] + "." + string(sig)
		_, err := issuer.Validate(ctx, tampered, auth.TokenAccess)
		errutil.AssertErrorCode(t, err, auth.CodeTokenBadSignature)
	})

	t.Run("signed with another secret", func(t *testing.T) {
		cfg := testTokenConfig()
		cfg.Secret = []byte("ffffffffffffffffffffffffffffffff")
		other, err := auth.NewTokenIssuer(cfg, nil, clock.Now)
		require.NoError(t, err)
		tok, err := other.IssueAccess(id)
		require.NoError(t, err)
		_, err = issuer.Validate(ctx, tok.Value, auth.TokenAccess)
		errutil.AssertErrorCode(t, err, auth.CodeTokenBadSignature)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := jwt.MapClaims{
			"sub": id.String(), "jti": "x", "typ": "access", "iss": "mrcauth-test",
			"iat": clock.Now().Unix(), "exp": clock.Now().Add(time.Hour).Unix(),
		}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Validate(ctx, raw, auth.TokenAccess)
		require.Error(t, err)
		assert.Equal(t, auth.KindTokenInvalid, auth.Narrow(err).Kind)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range []string{"", "abc", "a.b.c"} {
			_, err := issuer.Validate(ctx, raw, auth.TokenAccess)
			errutil.AssertErrorCode(t, err, auth.CodeTokenMalformed)
		}
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := issuer.Validate(ctx, access.Value, auth.TokenRefresh)
		errutil.AssertErrorCode(t, err, auth.CodeTokenMalformed)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		cfg := testTokenConfig()
		cfg.Issuer = "someone-else"
		other, err := auth.NewTokenIssuer(cfg, nil, clock.Now)
		require.NoError(t, err)
		tok, err := other.IssueAccess(id)
		require.NoError(t, err)
		_, err = issuer.Validate(ctx, tok.Value, auth.TokenAccess)
		errutil.AssertErrorCode(t, err, auth.CodeTokenMalformed)
	})
}

func TestTokenIssuer_Revocation(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	denylist := revocation.NewMemoryDenylist(clock.Now)
	issuer := newTestIssuer(t, clock, denylist)

	tok, err := issuer.IssueRefresh(ulid.Make())
	require.NoError(t, err)
	claims, err := issuer.Validate(ctx, tok.Value, auth.TokenRefresh)
	require.NoError(t, err)

	fresh, err := issuer.Revoke(ctx, claims)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = issuer.Revoke(ctx, claims)
	require.NoError(t, err)
	assert.False(t, fresh, "second revoke reports the token was already revoked")

	_, err = issuer.Validate(ctx, tok.Value, auth.TokenRefresh)
	errutil.AssertErrorCode(t, err, auth.CodeTokenRevoked)

	t.Run("denylist entry lives until token expiry", func(t *testing.T) {
		dl := mocks.NewMockDenylist(t)
		iss := newTestIssuer(t, clock, dl)
		access, err := iss.IssueAccess(ulid.Make())
		require.NoError(t, err)
		dl.On("IsRevoked", ctx, access.ID).Return(false, nil)
		c, err := iss.Validate(ctx, access.Value, auth.TokenAccess)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		dl.On("Revoke", ctx, access.ID, 7*time.Hour).Return(true, nil)
		_, err = iss.Revoke(ctx, c)
		require.NoError(t, err)
	})

	t.Run("denylist failure is internal", func(t *testing.T) {
		dl := mocks.NewMockDenylist(t)
		iss := newTestIssuer(t, clock, dl)
		access, err := iss.IssueAccess(ulid.Make())
		require.NoError(t, err)
		dl.On("IsRevoked", ctx, mock.Anything).Return(false, errors.New("redis down"))

		_, err = iss.Validate(ctx, access.Value, auth.TokenAccess)
		errutil.AssertErrorCode(t, err, "TOKEN_REVOCATION_CHECK_FAILED")
		assert.Equal(t, auth.KindInternal, auth.Narrow(err).Kind)
	})
}
