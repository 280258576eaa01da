package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyAdvertiser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedAccount(t, svc, "alice", 0, 0)

	application, err := svc.ApplyAdvertiser(ctx, "alice", "Ada Ads", "please")
	require.NoError(t, err)
	require.Equal(t, ApplicationPending, application.Status)
	require.Equal(t, "Ada Ads", application.CompanyName)

	// One pending application per account.
	_, err = svc.ApplyAdvertiser(ctx, "alice", "Ada Ads", "again")
	require.ErrorIs(t, err, ErrApplicationPending)

	_, err = svc.ApplyAdvertiser(ctx, "alice", "", "")
	require.Error(t, err)

	_, err = svc.ApplyAdvertiser(ctx, "ghost", "Ghost Ads", "")
	require.ErrorIs(t, err, ErrAccountNotFound)

	seedAccount(t, svc, "carol", 0, 0)
	require.NoError(t, svc.SetStatus(ctx, "carol", StatusSuspended))
	_, err = svc.ApplyAdvertiser(ctx, "carol", "Carol Ads", "")
	require.ErrorIs(t, err, ErrAccountSuspended)
}

func TestDecideApplicationApprovalGrantsRoleOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedAccount(t, svc, "alice", 0, 0)

	_, err := svc.ApplyAdvertiser(ctx, "alice", "Ada Ads", "")
	require.NoError(t, err)

	decided, err := svc.DecideApplication(ctx, "alice", true, "looks good", "admin-1")
	require.NoError(t, err)
	require.Equal(t, ApplicationApproved, decided.Status)
	require.Equal(t, "admin-1", decided.DecidedBy)

	account, err := svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.True(t, account.HasRole(RoleAdvertiser))

	// Exactly once.
	_, err = svc.DecideApplication(ctx, "alice", false, "", "admin-2")
	require.ErrorIs(t, err, ErrApplicationDecided)

	// An account holding the role cannot refile.
	_, err = svc.ApplyAdvertiser(ctx, "alice", "Ada Ads", "")
	require.ErrorIs(t, err, ErrAlreadyAdvertiser)
}

func TestDecideApplicationRejectionAllowsRefiling(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedAccount(t, svc, "alice", 0, 0)

	_, err := svc.ApplyAdvertiser(ctx, "alice", "Ada Ads", "")
	require.NoError(t, err)
	decided, err := svc.DecideApplication(ctx, "alice", false, "incomplete", "admin-1")
	require.NoError(t, err)
	require.Equal(t, ApplicationRejected, decided.Status)

	account, err := svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.False(t, account.HasRole(RoleAdvertiser))

	refiled, err := svc.ApplyAdvertiser(ctx, "alice", "Ada Ads", "with details")
	require.NoError(t, err)
	require.Equal(t, ApplicationPending, refiled.Status)

	_, err = svc.DecideApplication(ctx, "ghost", true, "", "admin-1")
	require.ErrorIs(t, err, ErrApplicationNotFound)
}

func TestListApplicationsPendingFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedAccount(t, svc, "alice", 0, 0)
	seedAccount(t, svc, "bob", 0, 0)

	_, err := svc.ApplyAdvertiser(ctx, "alice", "Ada Ads", "")
	require.NoError(t, err)
	_, err = svc.ApplyAdvertiser(ctx, "bob", "Bob Ads", "")
	require.NoError(t, err)
	_, err = svc.DecideApplication(ctx, "alice", false, "", "admin-1")
	require.NoError(t, err)

	applications, err := svc.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, applications, 2)
	require.Equal(t, ApplicationPending, applications[0].Status)
	require.Equal(t, "bob", applications[0].UID)
}
