package ledger

import (
	"context"
	"errors"
	"fmt"

	"vsdnetwork/docstore"
)

// EnsureAccount creates the account document on first authentication. The
// call is idempotent on uid: an existing account is returned untouched.
func (s *Service) EnsureAccount(ctx context.Context, uid, displayName, email string) (*Account, error) {
	if uid == "" {
		return nil, errors.New("ledger: uid required")
	}
	if displayName == "" {
		displayName = "New User"
	}
	var created Account
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		existing, err := getAccount(tx, uid)
		if err == nil {
			created = *existing
			return nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		created = Account{
			UID:            uid,
			DisplayName:    displayName,
			Email:          email,
			WalletAddress:  fmt.Sprintf("0x%.10s...", uid),
			VSDBalance:     0,
			VSDLiteBalance: 0,
			Status:         StatusActive,
			Joined:         formatDate(s.nowFn()),
			Roles:          []Role{RoleUser},
		}
		return tx.Set(CollectionAccounts, uid, &created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetAccount loads an account document.
func (s *Service) GetAccount(ctx context.Context, uid string) (*Account, error) {
	var account Account
	if err := s.store.Get(ctx, CollectionAccounts, uid, &account); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// SetStatus suspends or reactivates an account. Suspension replaces hard
// deletion; the document and its history are preserved.
func (s *Service) SetStatus(ctx context.Context, uid string, status AccountStatus) error {
	if status != StatusActive && status != StatusSuspended {
		return fmt.Errorf("ledger: unknown account status %q", status)
	}
	return s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		account, err := getAccount(tx, uid)
		if err != nil {
			return err
		}
		account.Status = status
		return tx.Set(CollectionAccounts, uid, account)
	})
}

// UpdateRoles replaces the role set. The permanent "user" role is always
// retained regardless of the requested set.
func (s *Service) UpdateRoles(ctx context.Context, uid string, roles []Role) error {
	normalized := NormalizeRoles(roles)
	return s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		account, err := getAccount(tx, uid)
		if err != nil {
			return err
		}
		account.Roles = normalized
		return tx.Set(CollectionAccounts, uid, account)
	})
}

// Supply aggregates the circulating balances and the derived treasury.
type Supply struct {
	CirculatingVSD  int64
	CirculatingLite int64
	TreasuryVSD     int64
}

// SupplySnapshot sums every account balance. The treasury is never stored;
// it is always TotalSupply minus the circulating VSD.
func (s *Service) SupplySnapshot(ctx context.Context) (*Supply, error) {
	docs, err := s.store.List(ctx, CollectionAccounts)
	if err != nil {
		return nil, err
	}
	var supply Supply
	for _, doc := range docs {
		var account Account
		if err := doc.Decode(&account); err != nil {
			return nil, fmt.Errorf("ledger: decode account %s: %w", doc.ID, err)
		}
		supply.CirculatingVSD += account.VSDBalance
		supply.CirculatingLite += account.VSDLiteBalance
	}
	supply.TreasuryVSD = TotalSupply - supply.CirculatingVSD
	return &supply, nil
}

// Transactions returns the account's transaction history.
func (s *Service) Transactions(ctx context.Context, uid string) ([]Transaction, error) {
	docs, err := s.store.List(ctx, AccountTransactions(uid))
	if err != nil {
		return nil, err
	}
	records := make([]Transaction, 0, len(docs))
	for _, doc := range docs {
		var record Transaction
		if err := doc.Decode(&record); err != nil {
			return nil, fmt.Errorf("ledger: decode transaction %s: %w", doc.ID, err)
		}
		records = append(records, record)
	}
	return records, nil
}
