package repository

import (
	"context"
	"testing"
	"time"

	"pointpay/internal/model"
	"pointpay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthRepository_SaveSettingsUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewAuthRepository(testutil.NewDB(t))

	_, err := repo.GetSettings(ctx, 1)
	assert.ErrorIs(t, err, ErrAuthSettingsNotFound)

	require.NoError(t, repo.SaveSettings(ctx, &model.AuthSettings{
		UserID: 1, PINHash: "h1", MaxAuthAttempts: 5, LockoutDuration: 300, AuthRequiredAmount: 10000,
	}))
	until := time.Now().Add(time.Minute)
	require.NoError(t, repo.Lock(ctx, 1, until))

	require.NoError(t, repo.SaveSettings(ctx, &model.AuthSettings{
		UserID: 1, PINHash: "h2", FingerprintEnabled: true, MaxAuthAttempts: 3, LockoutDuration: 60, AuthRequiredAmount: 5000,
	}))

	got, err := repo.GetSettings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "h2", got.PINHash)
	assert.True(t, got.FingerprintEnabled)
	assert.Equal(t, 3, got.MaxAuthAttempts)
	// 覆盖设置不会解除锁定
	assert.True(t, got.IsLocked)

	require.NoError(t, repo.Unlock(ctx, 1))
	got, err = repo.GetSettings(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.IsLocked)
	assert.Nil(t, got.LockedUntil)
}

func TestAuthRepository_CountRecentFailures(t *testing.T) {
	ctx := context.Background()
	repo := NewAuthRepository(testutil.NewDB(t))
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	for _, a := range []*model.AuthAttempt{
		{UserID: 1, AuthType: model.AuthTypePIN, Counted: true, AttemptedAt: now.Add(-10 * time.Minute)},
		{UserID: 1, AuthType: model.AuthTypePIN, Counted: true, AttemptedAt: now.Add(-time.Minute)},
		{UserID: 1, AuthType: model.AuthTypePIN, Counted: false, AttemptedAt: now},
		{UserID: 1, AuthType: model.AuthTypePIN, IsSuccess: true, Counted: true, AttemptedAt: now},
		{UserID: 2, AuthType: model.AuthTypePIN, Counted: true, AttemptedAt: now},
	} {
		require.NoError(t, repo.CreateAttempt(ctx, a))
	}

	count, err := repo.CountRecentFailures(ctx, 1, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	attempts, err := repo.ListAttempts(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, attempts, 4)
}
