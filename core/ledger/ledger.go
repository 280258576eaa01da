// Package ledger implements the dual-token accounting core: every balance
// mutation runs inside one optimistic store transaction together with its
// matching transaction records, so balances and the audit trail cannot
// diverge.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vsdnetwork/docstore"
	"vsdnetwork/observability/metrics"
)

// NetworkName is the counterparty label used on minted rewards.
const NetworkName = "VSD Network"

// TreasuryName is the counterparty label used on airdrops.
const TreasuryName = "VSD Treasury"

// Service applies balance-changing operations atomically over the document
// store. It is stateless; every call is a self-contained unit of work.
type Service struct {
	store   *docstore.Store
	log     *slog.Logger
	metrics *metrics.Ledger
	nowFn   func() time.Time
}

// NewService constructs a ledger service. The metrics collector may be nil.
func NewService(store *docstore.Store, logger *slog.Logger, collector *metrics.Ledger) *Service {
	if store == nil {
		panic("ledger: store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		log:     logger,
		metrics: collector,
		nowFn:   time.Now,
	}
}

// SetNow overrides the time source. It is intended for tests.
func (s *Service) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

// Store exposes the backing document store.
func (s *Service) Store() *docstore.Store {
	return s.store
}

// Now returns the service clock reading in UTC.
func (s *Service) Now() time.Time {
	return s.nowFn().UTC()
}

func getAccount(tx *docstore.Tx, uid string) (*Account, error) {
	var account Account
	if err := tx.Get(CollectionAccounts, uid, &account); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ActiveAccountTx loads an account inside an open transaction and enforces
// that it is active. Suspended accounts reject every mutating operation.
func (s *Service) ActiveAccountTx(tx *docstore.Tx, uid string) (*Account, error) {
	account, err := getAccount(tx, uid)
	if err != nil {
		return nil, err
	}
	if err := requireActive(account); err != nil {
		return nil, err
	}
	return account, nil
}

func requireActive(account *Account) error {
	if account.Status != StatusActive {
		return ErrAccountSuspended
	}
	return nil
}

func (s *Service) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.Observe(op, err)
	}
}

// TransferResult reports the settled sides of a transfer.
type TransferResult struct {
	FromBalance int64
	ToBalance   int64
}

// Transfer debits the sender and credits the recipient in one atomic unit,
// writing an out-leg record for the sender, an in-leg record for the
// recipient, and one global feed entry.
func (s *Service) Transfer(ctx context.Context, fromUID, toUID string, token Token, amount int64, description string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !token.Valid() {
		return nil, ErrInvalidToken
	}
	if fromUID == toUID {
		return nil, ErrSelfTransfer
	}

	var result TransferResult
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		from, err := getAccount(tx, fromUID)
		if err != nil {
			return err
		}
		to, err := getAccount(tx, toUID)
		if err != nil {
			return err
		}
		if err := requireActive(from); err != nil {
			return err
		}
		if err := requireActive(to); err != nil {
			return err
		}
		if from.Balance(token) < amount {
			return ErrInsufficientBalance
		}

		from.debit(token, amount)
		to.credit(token, amount)
		if err := tx.Set(CollectionAccounts, fromUID, from); err != nil {
			return err
		}
		if err := tx.Set(CollectionAccounts, toUID, to); err != nil {
			return err
		}

		date := formatDate(s.nowFn())
		desc := description
		if desc == "" {
			desc = fmt.Sprintf("Transfer to %s", to.DisplayName)
		}
		out := Transaction{
			Type:        txTypeOut(token),
			Amount:      amount,
			Status:      TxCompleted,
			Date:        date,
			Description: desc,
			From:        from.DisplayName,
			To:          to.DisplayName,
		}
		in := out
		in.Type = txTypeIn(token)
		feed := out
		feed.Type = fmt.Sprintf("Transfer %s", token)

		if _, err := tx.Create(AccountTransactions(fromUID), out); err != nil {
			return err
		}
		if _, err := tx.Create(AccountTransactions(toUID), in); err != nil {
			return err
		}
		if _, err := tx.Create(CollectionTransactions, feed); err != nil {
			return err
		}

		result = TransferResult{FromBalance: from.Balance(token), ToBalance: to.Balance(token)}
		return nil
	})
	s.observe("transfer", err)
	if err != nil {
		return nil, err
	}
	s.log.Info("transfer settled", "from", fromUID, "to", toUID, "token", string(token), "amount", amount)
	return &result, nil
}

// ConvertResult reports the post-conversion balances of the account.
type ConvertResult struct {
	VSDBalance     int64
	VSDLiteBalance int64
	Received       int64
}

// Convert moves value between the two balances of a single account at the
// fixed conversion rate. The debited amount is expressed in the source
// token's units; lite-to-main conversions must be a whole multiple of the
// rate so the round trip is exact.
func (s *Service) Convert(ctx context.Context, uid string, direction ConvertDirection, amount int64) (*ConvertResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var sourceToken, destToken Token
	var received int64
	switch direction {
	case LiteToMain:
		if amount%ConversionRate != 0 {
			return nil, ErrNotDivisible
		}
		sourceToken, destToken = TokenVSDLite, TokenVSD
		received = amount / ConversionRate
	case MainToLite:
		sourceToken, destToken = TokenVSD, TokenVSDLite
		received = amount * ConversionRate
	default:
		return nil, fmt.Errorf("ledger: unknown conversion direction %q", direction)
	}

	var result ConvertResult
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		account, err := getAccount(tx, uid)
		if err != nil {
			return err
		}
		if err := requireActive(account); err != nil {
			return err
		}
		if account.Balance(sourceToken) < amount {
			return ErrInsufficientBalance
		}

		account.debit(sourceToken, amount)
		account.credit(destToken, received)
		if err := tx.Set(CollectionAccounts, uid, account); err != nil {
			return err
		}

		date := formatDate(s.nowFn())
		desc := fmt.Sprintf("Converted %d %s to %d %s", amount, sourceToken, received, destToken)
		outLeg := Transaction{
			Type:        txTypeOut(sourceToken),
			Amount:      amount,
			Status:      TxCompleted,
			Date:        date,
			Description: desc,
			From:        account.DisplayName,
			To:          account.DisplayName,
		}
		inLeg := outLeg
		inLeg.Type = txTypeIn(destToken)
		inLeg.Amount = received

		if _, err := tx.Create(AccountTransactions(uid), outLeg); err != nil {
			return err
		}
		if _, err := tx.Create(AccountTransactions(uid), inLeg); err != nil {
			return err
		}

		result = ConvertResult{
			VSDBalance:     account.VSDBalance,
			VSDLiteBalance: account.VSDLiteBalance,
			Received:       received,
		}
		return nil
	})
	s.observe("convert", err)
	if err != nil {
		return nil, err
	}
	s.log.Info("conversion settled", "uid", uid, "direction", string(direction), "amount", amount, "received", received)
	return &result, nil
}

// IssueReward credits freshly minted VSD Lite to the account and writes the
// matching in-leg record. Rewards have no debit counterpart; they increase
// the circulating VSD Lite supply.
func (s *Service) IssueReward(ctx context.Context, uid string, amount int64, source string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		account, err := getAccount(tx, uid)
		if err != nil {
			return err
		}
		if err := requireActive(account); err != nil {
			return err
		}
		account.credit(TokenVSDLite, amount)
		if err := tx.Set(CollectionAccounts, uid, account); err != nil {
			return err
		}
		record := Transaction{
			Type:        txTypeIn(TokenVSDLite),
			Amount:      amount,
			Status:      TxCompleted,
			Date:        formatDate(s.nowFn()),
			Description: source,
			From:        NetworkName,
			To:          account.DisplayName,
		}
		_, err = tx.Create(AccountTransactions(uid), record)
		return err
	})
	s.observe("issue_reward", err)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.AddMintedLite(amount)
	}
	s.log.Info("reward issued", "uid", uid, "amount", amount, "source", source)
	return nil
}

// AdminAirdrop credits the target account on behalf of an administrator. VSD
// airdrops draw down the derived treasury; VSD Lite airdrops mint points the
// same way rewards do. The acting account must hold the admin role.
func (s *Service) AdminAirdrop(ctx context.Context, targetUID string, token Token, amount int64, description, actingAdminUID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !token.Valid() {
		return ErrInvalidToken
	}
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		admin, err := getAccount(tx, actingAdminUID)
		if err != nil {
			return err
		}
		if !admin.HasRole(RoleAdmin) {
			return ErrForbidden
		}
		target, err := getAccount(tx, targetUID)
		if err != nil {
			return err
		}
		if err := requireActive(target); err != nil {
			return err
		}

		target.credit(token, amount)
		if err := tx.Set(CollectionAccounts, targetUID, target); err != nil {
			return err
		}

		date := formatDate(s.nowFn())
		desc := description
		if desc == "" {
			desc = fmt.Sprintf("Airdrop of %d %s", amount, token)
		}
		record := Transaction{
			Type:        txTypeIn(token),
			Amount:      amount,
			Status:      TxCompleted,
			Date:        date,
			Description: desc,
			From:        TreasuryName,
			To:          target.DisplayName,
		}
		if _, err := tx.Create(AccountTransactions(targetUID), record); err != nil {
			return err
		}
		feed := record
		feed.Type = fmt.Sprintf("Airdrop %s", token)
		_, err = tx.Create(CollectionTransactions, feed)
		return err
	})
	s.observe("airdrop", err)
	if err != nil {
		return err
	}
	s.log.Info("airdrop settled", "target", targetUID, "token", string(token), "amount", amount, "admin", actingAdminUID)
	return nil
}

// TenantDebitResult reports the settled tenant payment.
type TenantDebitResult struct {
	NewBalance    int64
	AmountDebited int64
}

// TenantDebit removes VSD Lite from the account on behalf of a registered
// tenant and writes the out-leg record naming the tenant as counterparty.
// The amount is already converted to VSD Lite units by the caller.
func (s *Service) TenantDebit(ctx context.Context, uid string, liteAmount int64, tenantName, description string) (*TenantDebitResult, error) {
	if liteAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	var result TenantDebitResult
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		account, err := getAccount(tx, uid)
		if err != nil {
			return err
		}
		if err := requireActive(account); err != nil {
			return err
		}
		if account.VSDLiteBalance < liteAmount {
			return ErrInsufficientBalance
		}
		account.debit(TokenVSDLite, liteAmount)
		if err := tx.Set(CollectionAccounts, uid, account); err != nil {
			return err
		}
		desc := description
		if desc == "" {
			desc = fmt.Sprintf("Payment on %s", tenantName)
		}
		record := Transaction{
			Type:        txTypeOut(TokenVSDLite),
			Amount:      liteAmount,
			Status:      TxCompleted,
			Date:        formatDate(s.nowFn()),
			Description: desc,
			From:        account.DisplayName,
			To:          tenantName,
		}
		if _, err := tx.Create(AccountTransactions(uid), record); err != nil {
			return err
		}
		result = TenantDebitResult{NewBalance: account.VSDLiteBalance, AmountDebited: liteAmount}
		return nil
	})
	s.observe("tenant_debit", err)
	if err != nil {
		return nil, err
	}
	s.log.Info("tenant debit settled", "uid", uid, "tenant", tenantName, "amount", liteAmount)
	return &result, nil
}
