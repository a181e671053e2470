// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/auth/memory"
	"github.com/mrcsystems/mrcauth/internal/auth/mocks"
	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

func TestGenerateResetToken(t *testing.T) {
	token, hash, err := auth.GenerateResetToken()
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Len(t, hash, 64)
	assert.Equal(t, auth.HashResetToken(token), hash)
	assert.NotEqual(t, token, hash)

	other, _, err := auth.GenerateResetToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestNewPasswordReset(t *testing.T) {
	now := time.Now()
	id := ulid.Make()

	_, err := auth.NewPasswordReset(ulid.ULID{}, "h", now.Add(time.Hour), now)
	errutil.AssertErrorCode(t, err, "RESET_INVALID")
	_, err = auth.NewPasswordReset(id, "", now.Add(time.Hour), now)
	errutil.AssertErrorCode(t, err, "RESET_INVALID")
	_, err = auth.NewPasswordReset(id, "h", now, now)
	errutil.AssertErrorCode(t, err, "RESET_INVALID")

	reset, err := auth.NewPasswordReset(id, "h", now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, id, reset.AccountID)
	assert.Nil(t, reset.ConsumedAt)
}

func TestResetTokenStore(t *testing.T) {
	ctx := context.Background()

	newStore := func(t *testing.T) (*auth.ResetTokenStore, *memory.ResetRepository, *fakeClock) {
		t.Helper()
		repo := memory.NewResetRepository()
		clock := newFakeClock()
		store, err := auth.NewResetTokenStore(repo, time.Hour, clock.Now)
		require.NoError(t, err)
		return store, repo, clock
	}

	t.Run("consume once", func(t *testing.T) {
		store, _, clock := newStore(t)
		id := ulid.Make()
		token, expires, err := store.Create(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Add(time.Hour), expires)

		got, err := store.Consume(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, id, got)

		_, err = store.Consume(ctx, token)
		errutil.AssertErrorCode(t, err, auth.CodeResetNotFound)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		store, _, clock := newStore(t)
		token, _, err := store.Create(ctx, ulid.Make())
		require.NoError(t, err)

		clock.Advance(time.Hour)
		_, err = store.Consume(ctx, token)
		errutil.AssertErrorCode(t, err, auth.CodeResetExpired)
		assert.ErrorIs(t, err, auth.ErrExpired)
	})

	t.Run("unknown and empty tokens", func(t *testing.T) {
		store, _, _ := newStore(t)
		_, err := store.Consume(ctx, "deadbeef")
		errutil.AssertErrorCode(t, err, auth.CodeResetNotFound)
		_, err = store.Consume(ctx, "")
		errutil.AssertErrorCode(t, err, auth.CodeResetNotFound)
	})

	t.Run("later request supersedes earlier", func(t *testing.T) {
		store, _, _ := newStore(t)
		id := ulid.Make()
		first, _, err := store.Create(ctx, id)
		require.NoError(t, err)
		second, _, err := store.Create(ctx, id)
		require.NoError(t, err)

		_, err = store.Consume(ctx, first)
		errutil.AssertErrorCode(t, err, auth.CodeResetNotFound)
		_, err = store.Consume(ctx, second)
		require.NoError(t, err)
	})

	t.Run("other accounts are not superseded", func(t *testing.T) {
		store, _, _ := newStore(t)
		a, _, err := store.Create(ctx, ulid.Make())
		require.NoError(t, err)
		_, _, err = store.Create(ctx, ulid.Make())
		require.NoError(t, err)
		_, err = store.Consume(ctx, a)
		require.NoError(t, err)
	})

	t.Run("concurrent redemption succeeds once", func(t *testing.T) {
		store, _, _ := newStore(t)
		token, _, err := store.Create(ctx, ulid.Make())
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Consume(ctx, token); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("prune removes lapsed requests", func(t *testing.T) {
		store, repo, clock := newStore(t)
		used, _, err := store.Create(ctx, ulid.Make())
		require.NoError(t, err)
		_, err = store.Consume(ctx, used)
		require.NoError(t, err)
		_, _, err = store.Create(ctx, ulid.Make())
		require.NoError(t, err)

		clock.Advance(2 * time.Hour)
		_, _, err = store.Create(ctx, ulid.Make())
		require.NoError(t, err)

		n, err := store.Prune(ctx, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, 1, repo.Len())
	})

	t.Run("repository failures are wrapped", func(t *testing.T) {
		repo := mocks.NewMockResetRepository(t)
		store, err := auth.NewResetTokenStore(repo, time.Hour, nil)
		require.NoError(t, err)

		repo.On("Create", ctx, mock.AnythingOfType("*auth.PasswordReset")).Return(errors.New("boom"))
		_, _, err = store.Create(ctx, ulid.Make())
		errutil.AssertErrorCode(t, err, "RESET_CREATE_FAILED")

		repo.On("Consume", ctx, mock.Anything, mock.Anything).Return(ulid.ULID{}, errors.New("boom"))
		_, err = store.Consume(ctx, "tok")
		errutil.AssertErrorCode(t, err, "RESET_CONSUME_FAILED")
		assert.Equal(t, auth.KindInternal, auth.Narrow(err).Kind)

		repo.On("DeleteStale", ctx, mock.Anything).Return(int64(0), errors.New("boom"))
		_, err = store.Prune(ctx, time.Hour)
		errutil.AssertErrorCode(t, err, "RESET_PRUNE_FAILED")
	})

	t.Run("constructor validation", func(t *testing.T) {
		_, err := auth.NewResetTokenStore(nil, time.Hour, nil)
		errutil.AssertErrorCode(t, err, "RESET_STORE_INVALID")
		_, err = auth.NewResetTokenStore(memory.NewResetRepository(), 0, nil)
		errutil.AssertErrorCode(t, err, "RESET_STORE_INVALID")
	})
}
