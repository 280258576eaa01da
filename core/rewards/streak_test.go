package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vsdnetwork/core/ledger"
	"vsdnetwork/docstore"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Service) {
	t.Helper()
	store := docstore.NewMemStore()
	t.Cleanup(store.Close)
	svc := ledger.NewService(store, nil, nil)
	return NewEngine(svc, nil), svc
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestNextStreakFirstLogin(t *testing.T) {
	got := NextStreak(0, time.Time{}, day(t, "2025-03-10T09:00:00Z"))
	require.True(t, got.Changed)
	require.Equal(t, 1, got.Streak)
	require.Equal(t, DailyReward, got.Reward)
}

func TestNextStreakSameDayIsNoOp(t *testing.T) {
	last := day(t, "2025-03-10T09:00:00Z")
	got := NextStreak(3, last, day(t, "2025-03-10T23:59:00Z"))
	require.False(t, got.Changed)
	require.Equal(t, 3, got.Streak)
	require.Zero(t, got.Reward)
}

func TestNextStreakConsecutiveDayIncrements(t *testing.T) {
	last := day(t, "2025-03-10T09:00:00Z")
	got := NextStreak(3, last, day(t, "2025-03-11T07:00:00Z"))
	require.True(t, got.Changed)
	require.Equal(t, 4, got.Streak)
}

func TestNextStreakCapsAtMax(t *testing.T) {
	last := day(t, "2025-03-10T09:00:00Z")
	got := NextStreak(MaxStreak, last, day(t, "2025-03-11T07:00:00Z"))
	require.Equal(t, MaxStreak, got.Streak)
	require.Equal(t, DailyReward, got.Reward)
}

func TestNextStreakGapResets(t *testing.T) {
	last := day(t, "2025-03-10T09:00:00Z")
	got := NextStreak(5, last, day(t, "2025-03-13T09:00:00Z"))
	require.True(t, got.Changed)
	require.Equal(t, 1, got.Streak)
}

func TestNextStreakMonthBoundaryResets(t *testing.T) {
	// Even a consecutive day resets when the calendar month changes.
	last := day(t, "2025-03-31T09:00:00Z")
	got := NextStreak(6, last, day(t, "2025-04-01T09:00:00Z"))
	require.True(t, got.Changed)
	require.Equal(t, 1, got.Streak)
}

func TestClaimDailyStreak(t *testing.T) {
	engine, svc := newTestEngine(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", "Ada", "ada@example.com")
	require.NoError(t, err)

	now := day(t, "2025-03-10T09:00:00Z")
	engine.SetNow(func() time.Time { return now })

	result, err := engine.ClaimDailyStreak(ctx, "alice")
	require.NoError(t, err)
	require.True(t, result.Rewarded)
	require.Equal(t, 1, result.Streak)
	require.Equal(t, DailyReward, result.Amount)

	account, err := svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, DailyReward, account.VSDLiteBalance)
	require.Equal(t, 1, account.LoginStreak)

	// Same day: no double reward.
	result, err = engine.ClaimDailyStreak(ctx, "alice")
	require.NoError(t, err)
	require.False(t, result.Rewarded)
	account, err = svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, DailyReward, account.VSDLiteBalance)

	// Next day: streak advances and the reward is credited atomically with
	// its transaction record.
	now = day(t, "2025-03-11T08:00:00Z")
	result, err = engine.ClaimDailyStreak(ctx, "alice")
	require.NoError(t, err)
	require.True(t, result.Rewarded)
	require.Equal(t, 2, result.Streak)

	records, err := svc.Transactions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, ledger.NetworkName, records[0].From)
}

func TestClaimDailyStreakSuspendedAccount(t *testing.T) {
	engine, svc := newTestEngine(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "alice", "Ada", "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.SetStatus(ctx, "alice", ledger.StatusSuspended))

	_, err = engine.ClaimDailyStreak(ctx, "alice")
	require.ErrorIs(t, err, ledger.ErrAccountSuspended)
}

func TestClaimDailyStreakUnknownAccount(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.ClaimDailyStreak(context.Background(), "ghost")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
