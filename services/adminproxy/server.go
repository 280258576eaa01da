// Package adminproxy exposes the privileged administration surface: raw
// collection access, account and tenant management, airdrops and one-shot
// migrations. Every request is authenticated with a signed ID token and
// authorized by the composed admin policy; every attempt is audited.
package adminproxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vsdnetwork/core/ledger"
	"vsdnetwork/docstore"
	"vsdnetwork/gateway/auth"
)

const maxRequestBody = 1 << 20 // 1 MiB

// CollectionAuditLogs records every admin proxy attempt.
const CollectionAuditLogs = "vsd_api_logs"

// AuditLog is one audited admin action. RowCount is set on reads and lists
// and records how many documents the caller saw.
type AuditLog struct {
	AdminUID   string `json:"adminUid,omitempty"`
	Action     string `json:"action"`
	Collection string `json:"collection,omitempty"`
	DocID      string `json:"docId,omitempty"`
	RowCount   *int   `json:"rowCount,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Server is the HTTP front-end for administration.
type Server struct {
	verifier    *auth.TokenVerifier
	policy      auth.AuthorizationPolicy
	store       *docstore.Store
	ledger      *ledger.Service
	tenants     *auth.TenantRegistry
	treasuryUID string
	log         *slog.Logger
	nowFn       func() time.Time
	router      chi.Router
}

// NewServer wires the admin surface. treasuryUID names the account that
// receives consolidated balances during the one-shot reset migration; only
// that caller may trigger it.
func NewServer(verifier *auth.TokenVerifier, policy auth.AuthorizationPolicy, store *docstore.Store, svc *ledger.Service, tenants *auth.TenantRegistry, treasuryUID string, logger *slog.Logger) *Server {
	if verifier == nil {
		panic("token verifier required")
	}
	if policy == nil {
		panic("authorization policy required")
	}
	if store == nil {
		panic("document store required")
	}
	if svc == nil {
		panic("ledger service required")
	}
	if tenants == nil {
		panic("tenant registry required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		verifier:    verifier,
		policy:      policy,
		store:       store,
		ledger:      svc,
		tenants:     tenants,
		treasuryUID: treasuryUID,
		log:         logger,
		nowFn:       time.Now,
	}
	r := chi.NewRouter()
	r.Use(s.requireAdmin)
	r.Get("/api/admin/proxy", s.handleRead)
	r.Post("/api/admin/proxy", s.handleWrite)
	r.Post("/api/admin/airdrop", s.handleAirdrop)
	r.Get("/api/admin/tenants", s.handleTenantList)
	r.Post("/api/admin/tenants", s.handleTenantCreate)
	r.Patch("/api/admin/tenants/{id}", s.handleTenantUpdate)
	r.Patch("/api/admin/accounts/{uid}", s.handleAccountUpdate)
	r.Get("/api/admin/applications", s.handleApplicationList)
	r.Post("/api/admin/applications/{uid}", s.handleApplicationDecide)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type contextKey string

const identityKey contextKey = "identity"

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err)
			return
		}
		ident, err := s.verifier.Verify(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err)
			return
		}
		ok, err := s.policy.Authorize(r.Context(), ident)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			s.audit(r, ident.UID, "authorize", "", "", errors.New("not an admin"))
			s.writeError(w, http.StatusForbidden, errors.New("admin access required"))
			return
		}
		ctx := contextWithIdentity(r.Context(), ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	collection := strings.TrimSpace(r.URL.Query().Get("collection"))
	if collection == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("collection query parameter is required"))
		return
	}
	// The one-shot consolidation runs as a side effect of the treasury
	// admin's read when the flag is set. Other callers are rejected.
	if r.URL.Query().Get("reset_balances") == "true" {
		if s.treasuryUID == "" || ident.UID != s.treasuryUID {
			s.writeError(w, http.StatusForbidden, errors.New("balance reset is restricted to the treasury admin"))
			return
		}
		result, err := s.ResetBalances(r.Context())
		s.audit(r, ident.UID, "reset_balances", ledger.CollectionAccounts, "", err)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !result.AlreadyRun {
			s.log.Info("balance reset triggered", "admin", ident.UID)
		}
	}
	docs, err := s.store.List(r.Context(), collection)
	s.auditRead(r, ident.UID, "read", collection, len(docs), err)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	type document struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	out := make([]document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, document{ID: doc.ID, Data: doc.Data})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "docs": out})
}

type writeRequest struct {
	Op         string          `json:"op"`
	Collection string          `json:"collection,omitempty"`
	DocID      string          `json:"docId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	var req writeRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	switch req.Op {
	case "write":
		if req.Collection == "" || req.DocID == "" || len(req.Data) == 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("write requires collection, docId and data"))
			return
		}
		err := s.store.Put(r.Context(), req.Collection, req.DocID, req.Data)
		s.audit(r, ident.UID, "write", req.Collection, req.DocID, err)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	case "create":
		if req.Collection == "" || len(req.Data) == 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("create requires collection and data"))
			return
		}
		id, err := s.store.Create(r.Context(), req.Collection, req.Data)
		s.audit(r, ident.UID, "create", req.Collection, id, err)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id})
	case "delete":
		if req.Collection == "" || req.DocID == "" {
			s.writeError(w, http.StatusBadRequest, errors.New("delete requires collection and docId"))
			return
		}
		err := s.store.Delete(r.Context(), req.Collection, req.DocID)
		s.audit(r, ident.UID, "delete", req.Collection, req.DocID, err)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	case "reset_balances":
		if s.treasuryUID == "" || ident.UID != s.treasuryUID {
			s.writeError(w, http.StatusForbidden, errors.New("balance reset is restricted to the treasury admin"))
			return
		}
		result, err := s.ResetBalances(r.Context())
		s.audit(r, ident.UID, "reset_balances", ledger.CollectionAccounts, "", err)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown op %q", req.Op))
	}
}

type airdropRequest struct {
	UID         string `json:"uid"`
	Token       string `json:"token"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	var req airdropRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.ledger.AdminAirdrop(r.Context(), req.UID, ledger.Token(req.Token), req.Amount, req.Description, ident.UID)
	s.audit(r, ident.UID, "airdrop", ledger.CollectionAccounts, req.UID, err)
	if err != nil {
		s.writeError(w, ledgerStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleTenantList(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	tenants, err := s.tenants.List(r.Context())
	s.auditRead(r, ident.UID, "tenant_list", auth.CollectionTenants, len(tenants), err)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": tenants})
}

type tenantCreateRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
}

func (s *Server) handleTenantCreate(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	var req tenantCreateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tenant, err := s.tenants.Create(r.Context(), req.Name, req.Domain)
	s.audit(r, ident.UID, "tenant_create", auth.CollectionTenants, "", err)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tenant)
}

type tenantUpdateRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleTenantUpdate(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	id := chi.URLParam(r, "id")
	var req tenantUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.tenants.SetStatus(r.Context(), id, auth.TenantStatus(req.Status))
	s.audit(r, ident.UID, "tenant_update", auth.CollectionTenants, id, err)
	if err != nil {
		if errors.Is(err, auth.ErrTenantNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type accountUpdateRequest struct {
	Status string   `json:"status,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

func (s *Server) handleAccountUpdate(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	uid := chi.URLParam(r, "uid")
	var req accountUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Status == "" && req.Roles == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("status or roles is required"))
		return
	}
	if req.Status != "" {
		err := s.ledger.SetStatus(r.Context(), uid, ledger.AccountStatus(req.Status))
		s.audit(r, ident.UID, "account_status", ledger.CollectionAccounts, uid, err)
		if err != nil {
			s.writeError(w, ledgerStatus(err), err)
			return
		}
	}
	if req.Roles != nil {
		roles := make([]ledger.Role, 0, len(req.Roles))
		for _, role := range req.Roles {
			roles = append(roles, ledger.Role(role))
		}
		err := s.ledger.UpdateRoles(r.Context(), uid, roles)
		s.audit(r, ident.UID, "account_roles", ledger.CollectionAccounts, uid, err)
		if err != nil {
			s.writeError(w, ledgerStatus(err), err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleApplicationList(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	applications, err := s.ledger.ListApplications(r.Context())
	s.auditRead(r, ident.UID, "application_list", ledger.CollectionApplications, len(applications), err)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"applications": applications})
}

type applicationDecideRequest struct {
	Approve   bool   `json:"approve"`
	Rationale string `json:"rationale,omitempty"`
}

func (s *Server) handleApplicationDecide(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	uid := chi.URLParam(r, "uid")
	var req applicationDecideRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	application, err := s.ledger.DecideApplication(r.Context(), uid, req.Approve, req.Rationale, ident.UID)
	s.audit(r, ident.UID, "application_decide", ledger.CollectionApplications, uid, err)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrApplicationNotFound):
			s.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, ledger.ErrApplicationDecided):
			s.writeError(w, http.StatusConflict, err)
		default:
			s.writeError(w, ledgerStatus(err), err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, application)
}

func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAccountSuspended):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return err
	}
	if len(data) > maxRequestBody {
		return fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func (s *Server) auditRead(r *http.Request, adminUID, action, collection string, rows int, cause error) {
	entry := s.auditEntry(adminUID, action, collection, "", cause)
	entry.RowCount = &rows
	s.writeAudit(r, entry)
}

func (s *Server) audit(r *http.Request, adminUID, action, collection, docID string, cause error) {
	s.writeAudit(r, s.auditEntry(adminUID, action, collection, docID, cause))
}

func (s *Server) auditEntry(adminUID, action, collection, docID string, cause error) AuditLog {
	entry := AuditLog{
		AdminUID:   adminUID,
		Action:     action,
		Collection: collection,
		DocID:      docID,
		Status:     "success",
		Timestamp:  s.nowFn().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		entry.Status = "failed"
		entry.Error = cause.Error()
	}
	return entry
}

func (s *Server) writeAudit(r *http.Request, entry AuditLog) {
	if _, err := s.store.Create(r.Context(), CollectionAuditLogs, entry); err != nil {
		s.log.Error("write audit log", "err", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := strings.ReplaceAll(err.Error(), "\"", "'")
	_, _ = w.Write([]byte(fmt.Sprintf(`{"error":"%s"}`, msg)))
}
