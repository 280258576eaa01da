// Package walletapi exposes the user-facing wallet surface: account
// bootstrap, transfers, conversions, reward claims and history. Callers
// authenticate with a signed ID token; the uid always comes from the token,
// never from the request body.
package walletapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"vsdnetwork/core/ledger"
	"vsdnetwork/core/rewards"
	"vsdnetwork/docstore"
	"vsdnetwork/gateway/auth"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Options carries the wallet surface tunables.
type Options struct {
	DefaultPageSize  int
	MaxPageSize      int
	PauseTransfers   bool
	PauseConversions bool
	PauseRewards     bool
}

func (o *Options) applyDefaults() {
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 50
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 500
	}
}

// Server is the HTTP front-end for wallet operations.
type Server struct {
	verifier *auth.TokenVerifier
	ledger   *ledger.Service
	rewards  *rewards.Engine
	store    *docstore.Store
	log      *slog.Logger
	opts     Options
	router   chi.Router
}

// NewServer wires the wallet surface.
func NewServer(verifier *auth.TokenVerifier, svc *ledger.Service, engine *rewards.Engine, store *docstore.Store, logger *slog.Logger, opts Options) *Server {
	if verifier == nil {
		panic("token verifier required")
	}
	if svc == nil {
		panic("ledger service required")
	}
	if engine == nil {
		panic("rewards engine required")
	}
	if store == nil {
		panic("document store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	s := &Server{
		verifier: verifier,
		ledger:   svc,
		rewards:  engine,
		store:    store,
		log:      logger,
		opts:     opts,
	}
	r := chi.NewRouter()
	r.Get("/api/supply", s.handleSupply)
	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/api/wallet/ensure-account", s.handleEnsureAccount)
		r.Get("/api/wallet/account", s.handleAccount)
		r.Get("/api/wallet/transactions", s.handleTransactions)
		r.Post("/api/wallet/transfer", s.handleTransfer)
		r.Post("/api/wallet/convert", s.handleConvert)
		r.Post("/api/wallet/streak/claim", s.handleStreakClaim)
		r.Post("/api/wallet/tasks/claim", s.handleTaskClaim)
		r.Post("/api/wallet/advertiser/apply", s.handleAdvertiserApply)
		r.Get("/api/transactions", s.handleFeed)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type contextKey string

const identityKey contextKey = "identity"

func (s *Server) requireUser(next http.Handler) http.Handler {
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
		next.ServeHTTP(w, r.WithContext(contextWithIdentity(r.Context(), ident)))
	})
}

type ensureAccountRequest struct {
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

func (s *Server) handleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	var req ensureAccountRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := s.ledger.EnsureAccount(r.Context(), ident.UID, req.DisplayName, req.Email)
	if err != nil {
		s.writeError(w, ledgerStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	account, err := s.ledger.GetAccount(r.Context(), ident.UID)
	if err != nil {
		s.writeError(w, ledgerStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	records, err := s.ledger.Transactions(r.Context(), ident.UID)
	if err != nil {
		s.writeError(w, ledgerStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": records})
}

type transferRequest struct {
	ToUID       string `json:"toUid"`
	Token       string `json:"token"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if s.opts.PauseTransfers {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("transfers are paused"))
		return
	}
	ident := identityFrom(r)
	var req transferRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.ledger.Transfer(r.Context(), ident.UID, req.ToUID, ledger.Token(req.Token), req.Amount, req.Description)
	if err != nil {
		s.writeError(w, ledgerStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"newBalance": result.FromBalance,
	})
}

type convertRequest struct {
	Direction string `json:"direction"`
	Amount    int64  `json:"amount"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if s.opts.PauseConversions {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("conversions are paused"))
		return
	}
	ident := identityFrom(r)
	var req convertRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.ledger.Convert(r.Context(), ident.UID, ledger.ConvertDirection(req.Direction), req.Amount)
	if err != nil {
		s.writeError(w, ledgerStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"received":       result.Received,
		"vsdBalance":     result.VSDBalance,
		"vsdLiteBalance": result.VSDLiteBalance,
	})
}

func (s *Server) handleStreakClaim(w http.ResponseWriter, r *http.Request) {
	if s.opts.PauseRewards {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("rewards are paused"))
		return
	}
	ident := identityFrom(r)
	result, err := s.rewards.ClaimDailyStreak(r.Context(), ident.UID)
	if err != nil {
		s.writeError(w, ledgerStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"streak":   result.Streak,
		"rewarded": result.Rewarded,
		"amount":   result.Amount,
	})
}

type taskClaimRequest struct {
	TaskID string `json:"taskId"`
}

func (s *Server) handleTaskClaim(w http.ResponseWriter, r *http.Request) {
	if s.opts.PauseRewards {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("rewards are paused"))
		return
	}
	ident := identityFrom(r)
	var req taskClaimRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.rewards.ClaimTask(r.Context(), ident.UID, req.TaskID)
	if err != nil {
		switch {
		case errors.Is(err, rewards.ErrTaskAlreadyClaimed):
			s.writeError(w, http.StatusConflict, err)
		case errors.Is(err, rewards.ErrTaskNotFound):
			s.writeError(w, http.StatusNotFound, err)
		default:
			s.writeError(w, ledgerStatus(err), err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"amount":     result.Amount,
		"newBalance": result.NewBalance,
	})
}

type advertiserApplyRequest struct {
	CompanyName string `json:"companyName"`
	Message     string `json:"message,omitempty"`
}

func (s *Server) handleAdvertiserApply(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	var req advertiserApplyRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("companyName is required"))
		return
	}
	application, err := s.ledger.ApplyAdvertiser(r.Context(), ident.UID, req.CompanyName, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrApplicationPending), errors.Is(err, ledger.ErrAlreadyAdvertiser):
			s.writeError(w, http.StatusConflict, err)
		default:
			s.writeError(w, ledgerStatus(err), err)
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, application)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.DefaultPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}
	docs, err := s.store.List(r.Context(), ledger.CollectionTransactions)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	records := make([]ledger.Transaction, 0, len(docs))
	for _, doc := range docs {
		var record ledger.Transaction
		if err := doc.Decode(&record); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		records = append(records, record)
	}
	// Newest first. Dates are RFC 3339 so the lexical order is chronological.
	sort.Slice(records, func(i, j int) bool { return records[i].Date > records[j].Date })
	if len(records) > limit {
		records = records[:limit]
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": records})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := s.ledger.SupplySnapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalSupply":     ledger.TotalSupply,
		"circulatingVsd":  supply.CirculatingVSD,
		"circulatingLite": supply.CirculatingLite,
		"treasuryVsd":     supply.TreasuryVSD,
	})
}

func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAccountSuspended):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidToken),
		errors.Is(err, ledger.ErrSelfTransfer),
		errors.Is(err, ledger.ErrNotDivisible):
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
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
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

func contextWithIdentity(ctx context.Context, ident *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// identityFrom returns the verified identity attached by requireUser.
func identityFrom(r *http.Request) *auth.Identity {
	ident, _ := r.Context().Value(identityKey).(*auth.Identity)
	if ident == nil {
		return &auth.Identity{}
	}
	return ident
}
