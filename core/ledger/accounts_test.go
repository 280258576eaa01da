package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureAccountCreatesOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	account, err := svc.EnsureAccount(ctx, "user-12345678901234", "Ada", "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "0xuser-12345...", account.WalletAddress)
	require.Equal(t, StatusActive, account.Status)
	require.Equal(t, []Role{RoleUser}, account.Roles)
	require.Zero(t, account.VSDBalance)
	require.Zero(t, account.VSDLiteBalance)

	// A repeat call returns the existing document untouched.
	account.VSDLiteBalance = 0
	require.NoError(t, svc.IssueReward(ctx, "user-12345678901234", 50, "seed"))
	again, err := svc.EnsureAccount(ctx, "user-12345678901234", "Impostor", "other@example.com")
	require.NoError(t, err)
	require.Equal(t, "Ada", again.DisplayName)
	require.Equal(t, int64(50), again.VSDLiteBalance)

	_, err = svc.EnsureAccount(ctx, "", "Nameless", "")
	require.Error(t, err)
}

func TestEnsureAccountDefaultsDisplayName(t *testing.T) {
	svc := newTestService(t)
	account, err := svc.EnsureAccount(context.Background(), "uid-1", "", "")
	require.NoError(t, err)
	require.Equal(t, "New User", account.DisplayName)
}

func TestSetStatusSuspendsWithoutDeleting(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedAccount(t, svc, "alice", 100, 0)

	require.NoError(t, svc.SetStatus(ctx, "alice", StatusSuspended))
	account, err := svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, account.Status)
	require.Equal(t, int64(100), account.VSDBalance, "suspension must not touch balances")

	require.NoError(t, svc.SetStatus(ctx, "alice", StatusActive))
	account, err = svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, StatusActive, account.Status)

	require.Error(t, svc.SetStatus(ctx, "alice", AccountStatus("Deleted")))
	require.ErrorIs(t, svc.SetStatus(ctx, "ghost", StatusSuspended), ErrAccountNotFound)
}

func TestNormalizeRoles(t *testing.T) {
	require.Equal(t, []Role{RoleUser}, NormalizeRoles(nil))
	require.Equal(t, []Role{RoleUser, RoleAdmin}, NormalizeRoles([]Role{RoleAdmin}))
	require.Equal(t, []Role{RoleUser, RoleAdmin}, NormalizeRoles([]Role{RoleAdmin, RoleAdmin, RoleUser}))
	require.Equal(t, []Role{RoleUser, RoleAdvertiser}, NormalizeRoles([]Role{" advertiser", ""}))
}

func TestUpdateRolesKeepsPermanentUserRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedAccount(t, svc, "alice", 0, 0)

	require.NoError(t, svc.UpdateRoles(ctx, "alice", []Role{RoleAdmin, RoleAdvertiser}))
	account, err := svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.True(t, account.HasRole(RoleUser))
	require.True(t, account.HasRole(RoleAdmin))
	require.True(t, account.HasRole(RoleAdvertiser))

	// Clearing every role still leaves "user".
	require.NoError(t, svc.UpdateRoles(ctx, "alice", nil))
	account, err = svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []Role{RoleUser}, account.Roles)
}
