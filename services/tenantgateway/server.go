// Package tenantgateway exposes the tenant payment surface: registered
// third-party sites debit VSD Lite from user accounts with their API key.
package tenantgateway

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vsdnetwork/core/ledger"
	"vsdnetwork/docstore"
	"vsdnetwork/gateway/auth"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB

	// CollectionAPILogs records every payment attempt, successful or not.
	CollectionAPILogs = "api_logs"
)

// APILog is one audited payment attempt.
type APILog struct {
	TenantID   string `json:"tenantId,omitempty"`
	TenantName string `json:"tenantName,omitempty"`
	UID        string `json:"uid,omitempty"`
	AmountVSD  int64  `json:"amountVsd,omitempty"`
	AmountLite int64  `json:"amountVsdLite,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Server is the HTTP front-end for tenant payments.
type Server struct {
	tenants *auth.TenantRegistry
	ledger  *ledger.Service
	store   *docstore.Store
	idem    *IdempotencyStore
	log     *slog.Logger
	paused  bool
	nowFn   func() time.Time
	router  chi.Router
}

// NewServer wires the payment surface. The idempotency store may be nil, in
// which case Idempotency-Key headers are ignored.
func NewServer(tenants *auth.TenantRegistry, svc *ledger.Service, store *docstore.Store, idem *IdempotencyStore, logger *slog.Logger, paused bool) *Server {
	if tenants == nil {
		panic("tenant registry required")
	}
	if svc == nil {
		panic("ledger service required")
	}
	if store == nil {
		panic("document store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		tenants: tenants,
		ledger:  svc,
		store:   store,
		idem:    idem,
		log:     logger,
		paused:  paused,
		nowFn:   time.Now,
	}
	r := chi.NewRouter()
	r.Post("/api/pay-with-tenant-token", s.handlePay)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type payRequest struct {
	UserID      string `json:"userId"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

type payResponse struct {
	Success       bool   `json:"success"`
	NewBalance    int64  `json:"newBalance"`
	AmountDebited int64  `json:"amountDebited"`
	Currency      string `json:"currency"`
	Tenant        string `json:"tenant"`
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		s.audit(r, nil, payRequest{}, "failed", err)
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	tenant, err := s.tenants.FindByAPIKey(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownAPIKey) || errors.Is(err, auth.ErrTenantInactive) {
			s.audit(r, tenant, payRequest{}, "failed", err)
			s.writeError(w, http.StatusUnauthorized, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if s.paused {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("tenant payments are paused"))
		return
	}

	var req payRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, tenant, req, "failed", err)
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		err := errors.New("userId is required")
		s.audit(r, tenant, req, "failed", err)
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Amount <= 0 {
		err := errors.New("amount must be positive")
		s.audit(r, tenant, req, "failed", err)
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Amount > math.MaxInt64/ledger.ConversionRate {
		err := errors.New("amount exceeds the settlement limit")
		s.audit(r, tenant, req, "failed", err)
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	requestHash := hashRequest(r.Method, r.URL.Path, body)
	if s.idem != nil && key != "" {
		cached, cacheErr := s.idem.Lookup(r.Context(), tenant.APIKey, key, requestHash)
		if cacheErr != nil {
			status := http.StatusInternalServerError
			if errors.Is(cacheErr, ErrIdempotencyMismatch) {
				status = http.StatusConflict
			}
			s.writeError(w, status, cacheErr)
			return
		}
		if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	// Prices are quoted in VSD; the wallet settles in VSD Lite.
	liteAmount := req.Amount * ledger.ConversionRate
	result, err := s.ledger.TenantDebit(r.Context(), req.UserID, liteAmount, tenant.Name, req.Description)
	s.audit(r, tenant, req, outcome(err), err)
	if err != nil {
		s.writeError(w, debitStatus(err), err)
		return
	}

	payload, err := json.Marshal(payResponse{
		Success:       true,
		NewBalance:    result.NewBalance,
		AmountDebited: result.AmountDebited,
		Currency:      string(ledger.TokenVSDLite),
		Tenant:        tenant.Name,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.idem != nil && key != "" {
		if err := s.idem.Save(r.Context(), tenant.APIKey, key, requestHash, http.StatusOK, payload); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

func debitStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAccountSuspended):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) audit(r *http.Request, tenant *auth.Tenant, req payRequest, status string, cause error) {
	entry := APILog{
		UID:       req.UserID,
		AmountVSD: req.Amount,
		Status:    status,
		Timestamp: s.nowFn().UTC().Format(time.RFC3339),
	}
	if req.Amount > 0 && req.Amount <= math.MaxInt64/ledger.ConversionRate {
		entry.AmountLite = req.Amount * ledger.ConversionRate
	}
	if tenant != nil {
		entry.TenantID = tenant.ID
		entry.TenantName = tenant.Name
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if _, err := s.store.Create(r.Context(), CollectionAPILogs, entry); err != nil {
		s.log.Error("write api log", "err", err)
	}
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
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

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
