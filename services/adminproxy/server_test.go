package adminproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vsdnetwork/core/ledger"
	"vsdnetwork/docstore"
	"vsdnetwork/gateway/auth"
)

const testSecret = "test-signing-secret"

type adminFixture struct {
	server   *Server
	store    *docstore.Store
	ledger   *ledger.Service
	tenants  *auth.TenantRegistry
	verifier *auth.TokenVerifier
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	store := docstore.NewMemStore()
	t.Cleanup(store.Close)
	verifier, err := auth.NewTokenVerifier(testSecret)
	require.NoError(t, err)
	policy := auth.Any(
		auth.NewAllowListPolicy([]string{"listed-admin", "treasury-admin"}),
		auth.ClaimPolicy{},
		auth.NewCollectionPolicy(store, auth.CollectionAdmins),
	)
	svc := ledger.NewService(store, nil, nil)
	tenants := auth.NewTenantRegistry(store)
	server := NewServer(verifier, policy, store, svc, tenants, "treasury-admin", nil)
	return &adminFixture{server: server, store: store, ledger: svc, tenants: tenants, verifier: verifier}
}

func (f *adminFixture) token(t *testing.T, uid string, superAdmin bool) string {
	t.Helper()
	token, err := f.verifier.Issue(uid, superAdmin, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *adminFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuthorization(t *testing.T) {
	f := newAdminFixture(t)

	// No credential.
	rec := f.do(t, http.MethodGet, "/api/admin/proxy?collection=accounts", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token, not an admin.
	rec = f.do(t, http.MethodGet, "/api/admin/proxy?collection=accounts", f.token(t, "someone", false), "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Static allow list.
	rec = f.do(t, http.MethodGet, "/api/admin/proxy?collection=accounts", f.token(t, "listed-admin", false), "")
	require.Equal(t, http.StatusOK, rec.Code)

	// superAdmin claim.
	rec = f.do(t, http.MethodGet, "/api/admin/proxy?collection=accounts", f.token(t, "root", true), "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Runtime grant through the admins collection.
	require.NoError(t, f.store.Put(context.Background(), auth.CollectionAdmins, "granted", map[string]bool{"active": true}))
	rec = f.do(t, http.MethodGet, "/api/admin/proxy?collection=accounts", f.token(t, "granted", false), "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminProxyReadAndWrite(t *testing.T) {
	f := newAdminFixture(t)
	token := f.token(t, "listed-admin", false)

	rec := f.do(t, http.MethodPost, "/api/admin/proxy", token,
		`{"op":"write","collection":"settings","docId":"site","data":{"theme":"dark"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/proxy", token,
		`{"op":"create","collection":"settings","data":{"theme":"light"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.OK)
	require.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodGet, "/api/admin/proxy?collection=settings", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		OK   bool `json:"ok"`
		Docs []struct {
			ID   string          `json:"id"`
			Data json.RawMessage `json:"data"`
		} `json:"docs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.True(t, listing.OK)
	require.Len(t, listing.Docs, 2)

	rec = f.do(t, http.MethodPost, "/api/admin/proxy", token,
		`{"op":"delete","collection":"settings","docId":"site"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	exists, err := f.store.Exists(context.Background(), "settings", "site")
	require.NoError(t, err)
	require.False(t, exists)

	// Unknown op.
	rec = f.do(t, http.MethodPost, "/api/admin/proxy", token, `{"op":"drop_all"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Every attempt was audited.
	logs, err := f.store.List(context.Background(), CollectionAuditLogs)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
}

func TestReadAuditsRecordRowCounts(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	token := f.token(t, "listed-admin", false)

	require.NoError(t, f.store.Put(ctx, "settings", "site", map[string]string{"theme": "dark"}))
	require.NoError(t, f.store.Put(ctx, "settings", "banner", map[string]string{"text": "hi"}))
	_, err := f.tenants.Create(ctx, "Music Hub", "music.example")
	require.NoError(t, err)
	_, err = f.ledger.EnsureAccount(ctx, "alice", "Ada", "ada@example.com")
	require.NoError(t, err)
	_, err = f.ledger.ApplyAdvertiser(ctx, "alice", "Ada Ads", "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/admin/proxy?collection=settings", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/admin/tenants", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/admin/applications", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	docs, err := f.store.List(ctx, CollectionAuditLogs)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, doc := range docs {
		var entry AuditLog
		require.NoError(t, doc.Decode(&entry))
		require.Equal(t, "listed-admin", entry.AdminUID)
		require.NotNil(t, entry.RowCount, "read audits must record how many rows were returned")
		counts[entry.Action] = *entry.RowCount
	}
	require.Equal(t, 2, counts["read"])
	require.Equal(t, 1, counts["tenant_list"])
	require.Equal(t, 1, counts["application_list"])
}

func TestResetBalancesRunsExactlyOnce(t *testing.T) {
	f := newAdminFixture(t)
	token := f.token(t, "treasury-admin", false)

	for _, uid := range []string{"user-1", "user-2"} {
		_, err := f.ledger.EnsureAccount(context.Background(), uid, "User", uid+"@example.com")
		require.NoError(t, err)
		require.NoError(t, f.ledger.IssueReward(context.Background(), uid, 500, "seed"))
	}

	// Only the treasury admin may trigger the migration.
	rec := f.do(t, http.MethodPost, "/api/admin/proxy", f.token(t, "listed-admin", false), `{"op":"reset_balances"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/proxy", token, `{"op":"reset_balances"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result ResetResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.False(t, result.AlreadyRun)
	require.Equal(t, 2, result.AccountsReset)
	require.Equal(t, int64(1000), result.ConsolidatedLite)

	for _, uid := range []string{"user-1", "user-2"} {
		account, err := f.ledger.GetAccount(context.Background(), uid)
		require.NoError(t, err)
		require.Zero(t, account.VSDBalance)
		require.Zero(t, account.VSDLiteBalance)
	}

	// The summed VSD Lite landed on the treasury account.
	treasury, err := f.ledger.GetAccount(context.Background(), "treasury-admin")
	require.NoError(t, err)
	require.Equal(t, int64(1000), treasury.VSDLiteBalance)

	// Credit again, then re-run: the guard blocks a second reset.
	require.NoError(t, f.ledger.IssueReward(context.Background(), "user-1", 100, "post-reset"))
	rec = f.do(t, http.MethodPost, "/api/admin/proxy", token, `{"op":"reset_balances"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.AlreadyRun)

	account, err := f.ledger.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), account.VSDLiteBalance)
}

func TestResetBalancesViaReadQuery(t *testing.T) {
	f := newAdminFixture(t)

	_, err := f.ledger.EnsureAccount(context.Background(), "user-1", "User", "user@example.com")
	require.NoError(t, err)
	require.NoError(t, f.ledger.IssueReward(context.Background(), "user-1", 300, "seed"))

	// A non-treasury admin cannot smuggle the flag in.
	rec := f.do(t, http.MethodGet, "/api/admin/proxy?collection=accounts&reset_balances=true", f.token(t, "listed-admin", false), "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/proxy?collection=accounts&reset_balances=true", f.token(t, "treasury-admin", false), "")
	require.Equal(t, http.StatusOK, rec.Code)

	account, err := f.ledger.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	require.Zero(t, account.VSDLiteBalance)
	treasury, err := f.ledger.GetAccount(context.Background(), "treasury-admin")
	require.NoError(t, err)
	require.Equal(t, int64(300), treasury.VSDLiteBalance)
}

func TestResetBalancesPreservesOtherFields(t *testing.T) {
	f := newAdminFixture(t)
	token := f.token(t, "treasury-admin", false)

	_, err := f.ledger.EnsureAccount(context.Background(), "user-1", "Keeper", "keeper@example.com")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/admin/proxy", token, `{"op":"reset_balances"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	account, err := f.ledger.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "Keeper", account.DisplayName)
	require.Equal(t, ledger.StatusActive, account.Status)
}

func TestAdminAirdrop(t *testing.T) {
	f := newAdminFixture(t)
	token := f.token(t, "listed-admin", false)

	_, err := f.ledger.EnsureAccount(context.Background(), "listed-admin", "Admin", "admin@example.com")
	require.NoError(t, err)
	require.NoError(t, f.ledger.UpdateRoles(context.Background(), "listed-admin", []ledger.Role{ledger.RoleAdmin}))
	_, err = f.ledger.EnsureAccount(context.Background(), "user-1", "User", "user@example.com")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/admin/airdrop", token,
		`{"uid":"user-1","token":"VSD","amount":100,"description":"welcome"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	account, err := f.ledger.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), account.VSDBalance)

	// An authorized gateway caller without the ledger admin role cannot mint.
	plain := f.token(t, "granted", false)
	require.NoError(t, f.store.Put(context.Background(), auth.CollectionAdmins, "granted", map[string]bool{"active": true}))
	_, err = f.ledger.EnsureAccount(context.Background(), "granted", "Granted", "granted@example.com")
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/admin/airdrop", plain,
		`{"uid":"user-1","token":"VSD","amount":100}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTenantManagement(t *testing.T) {
	f := newAdminFixture(t)
	token := f.token(t, "listed-admin", false)

	rec := f.do(t, http.MethodPost, "/api/admin/tenants", token, `{"name":"Music Hub","domain":"music.example"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var tenant auth.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tenant))
	require.True(t, strings.HasPrefix(tenant.APIKey, auth.APIKeyPrefix))

	rec = f.do(t, http.MethodGet, "/api/admin/tenants", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Tenants []auth.Tenant `json:"tenants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Tenants, 1)

	rec = f.do(t, http.MethodPatch, "/api/admin/tenants/"+tenant.ID, token, `{"status":"Inactive"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := f.tenants.FindByAPIKey(context.Background(), tenant.APIKey)
	require.ErrorIs(t, err, auth.ErrTenantInactive)

	rec = f.do(t, http.MethodPatch, "/api/admin/tenants/missing", token, `{"status":"Active"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountManagement(t *testing.T) {
	f := newAdminFixture(t)
	token := f.token(t, "listed-admin", false)

	_, err := f.ledger.EnsureAccount(context.Background(), "user-1", "User", "user@example.com")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPatch, "/api/admin/accounts/user-1", token, `{"status":"Suspended"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	account, err := f.ledger.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSuspended, account.Status)

	rec = f.do(t, http.MethodPatch, "/api/admin/accounts/user-1", token, `{"roles":["advertiser"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	account, err = f.ledger.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, account.HasRole(ledger.RoleAdvertiser))
	require.True(t, account.HasRole(ledger.RoleUser), "permanent user role must survive role updates")

	rec = f.do(t, http.MethodPatch, "/api/admin/accounts/ghost", token, `{"status":"Suspended"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplicationReview(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	token := f.token(t, "listed-admin", false)

	_, err := f.ledger.EnsureAccount(ctx, "alice", "Ada", "ada@example.com")
	require.NoError(t, err)
	_, err = f.ledger.ApplyAdvertiser(ctx, "alice", "Ada Ads", "hi")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/admin/applications", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Applications []ledger.AdvertiserApplication `json:"applications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Applications, 1)

	rec = f.do(t, http.MethodPost, "/api/admin/applications/alice", token, `{"approve":true,"rationale":"verified"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var decided ledger.AdvertiserApplication
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	require.Equal(t, ledger.ApplicationApproved, decided.Status)
	require.Equal(t, "listed-admin", decided.DecidedBy)

	account, err := f.ledger.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.True(t, account.HasRole(ledger.RoleAdvertiser))

	// A decision settles the application exactly once.
	rec = f.do(t, http.MethodPost, "/api/admin/applications/alice", token, `{"approve":false}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/applications/ghost", token, `{"approve":true}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
