package adminproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vsdnetwork/core/ledger"
	"vsdnetwork/docstore"
)

const (
	// CollectionInternalState holds one-shot operational flags.
	CollectionInternalState = "internal_state"
	// balanceResetID is the guard document for the balance reset migration.
	balanceResetID = "balanceReset"
)

// balanceResetGuard marks the migration as done so it can never run twice.
type balanceResetGuard struct {
	Completed        bool   `json:"completed"`
	CompletedAt      string `json:"completedAt"`
	AccountsReset    int    `json:"accountsReset"`
	ConsolidatedLite int64  `json:"consolidatedLite"`
}

// ResetResult reports the outcome of the balance reset migration.
type ResetResult struct {
	AlreadyRun       bool   `json:"alreadyRun"`
	AccountsReset    int    `json:"accountsReset"`
	ConsolidatedLite int64  `json:"consolidatedLite"`
	CompletedAt      string `json:"completedAt,omitempty"`
}

// ResetBalances consolidates the ledger exactly once: every non-treasury
// account has its VSD Lite balance summed and both balances zeroed, and the
// treasury account receives the summed total. The guard document is written in
// the same atomic batch as the account updates, so a re-run after a crash
// either sees the guard or a fully unreset ledger. Fields other than the two
// balances are preserved untouched.
func (s *Server) ResetBalances(ctx context.Context) (*ResetResult, error) {
	var guard balanceResetGuard
	err := s.store.Get(ctx, CollectionInternalState, balanceResetID, &guard)
	if err == nil && guard.Completed {
		return &ResetResult{
			AlreadyRun:       true,
			AccountsReset:    guard.AccountsReset,
			ConsolidatedLite: guard.ConsolidatedLite,
			CompletedAt:      guard.CompletedAt,
		}, nil
	}
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	docs, err := s.store.List(ctx, ledger.CollectionAccounts)
	if err != nil {
		return nil, err
	}

	zero, err := json.Marshal(int64(0))
	if err != nil {
		return nil, err
	}
	batch := s.store.NewBatch()
	var totalLite int64
	var reset int
	var treasury map[string]json.RawMessage
	for _, doc := range docs {
		var fields map[string]json.RawMessage
		if err := doc.Decode(&fields); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", doc.ID, err)
		}
		if doc.ID == s.treasuryUID {
			treasury = fields
			continue
		}
		if raw, ok := fields["vsdLiteBalance"]; ok {
			var lite int64
			_ = json.Unmarshal(raw, &lite)
			totalLite += lite
		}
		fields["vsdBalance"] = zero
		fields["vsdLiteBalance"] = zero
		if err := batch.Set(ledger.CollectionAccounts, doc.ID, fields); err != nil {
			return nil, err
		}
		reset++
	}

	if treasury == nil {
		treasury = map[string]json.RawMessage{}
	}
	consolidated, err := json.Marshal(totalLite)
	if err != nil {
		return nil, err
	}
	treasury["vsdBalance"] = zero
	treasury["vsdLiteBalance"] = consolidated
	if err := batch.Set(ledger.CollectionAccounts, s.treasuryUID, treasury); err != nil {
		return nil, err
	}

	completedAt := s.nowFn().UTC().Format(time.RFC3339)
	guard = balanceResetGuard{Completed: true, CompletedAt: completedAt, AccountsReset: reset, ConsolidatedLite: totalLite}
	if err := batch.Set(CollectionInternalState, balanceResetID, guard); err != nil {
		return nil, err
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("balance reset applied", "accounts", reset, "consolidatedLite", totalLite)
	return &ResetResult{AccountsReset: reset, ConsolidatedLite: totalLite, CompletedAt: completedAt}, nil
}
