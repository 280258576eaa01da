package ledger

import (
	"strings"
	"time"
)

// ConversionRate is the number of VSD Lite units redeemed per 1 VSD. It is
// the single source of truth for conversion math across every component.
const ConversionRate int64 = 100

// TotalSupply is the fixed VSD supply. The treasury is never materialised as
// an account; it is always derived as TotalSupply minus circulating balances.
const TotalSupply int64 = 700_000_000

// Token identifies one of the two balances carried by every account.
type Token string

const (
	// TokenVSD is the primary utility token.
	TokenVSD Token = "VSD"
	// TokenVSDLite is the secondary rewards-point token.
	TokenVSDLite Token = "VSD Lite"
)

// Valid reports whether the token value is one of the two known tokens.
func (t Token) Valid() bool {
	return t == TokenVSD || t == TokenVSDLite
}

// ConvertDirection selects which balance is debited during a conversion.
type ConvertDirection string

const (
	// LiteToMain converts VSD Lite into VSD at ConversionRate.
	LiteToMain ConvertDirection = "lite_to_main"
	// MainToLite converts VSD into VSD Lite at ConversionRate.
	MainToLite ConvertDirection = "main_to_lite"
)

// AccountStatus is the lifecycle state of an account. Accounts are never
// hard-deleted; suspension takes the place of deletion.
type AccountStatus string

const (
	StatusActive    AccountStatus = "Active"
	StatusSuspended AccountStatus = "Suspended"
)

// Role grants portal capabilities to an account. The "user" role is
// permanent and cannot be removed.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdvertiser Role = "advertiser"
	RoleAdmin      Role = "admin"
)

// Account is the per-user ledger document. Field names follow the persisted
// document layout (accounts/{uid}).
type Account struct {
	UID            string        `json:"uid"`
	DisplayName    string        `json:"displayName"`
	Email          string        `json:"email"`
	WalletAddress  string        `json:"walletAddress"`
	VSDBalance     int64         `json:"vsdBalance"`
	VSDLiteBalance int64         `json:"vsdLiteBalance"`
	Status         AccountStatus `json:"status"`
	Joined         string        `json:"joined"`
	Roles          []Role        `json:"roles"`
	LoginStreak    int           `json:"loginStreak,omitempty"`
	LastStreakDay  string        `json:"lastStreakDay,omitempty"`
}

// HasRole reports whether the account carries the given role.
func (a *Account) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Balance returns the named token balance.
func (a *Account) Balance(token Token) int64 {
	if token == TokenVSDLite {
		return a.VSDLiteBalance
	}
	return a.VSDBalance
}

func (a *Account) credit(token Token, amount int64) {
	if token == TokenVSDLite {
		a.VSDLiteBalance += amount
		return
	}
	a.VSDBalance += amount
}

func (a *Account) debit(token Token, amount int64) {
	if token == TokenVSDLite {
		a.VSDLiteBalance -= amount
		return
	}
	a.VSDBalance -= amount
}

// TransactionStatus tracks settlement of a transaction record.
type TransactionStatus string

const (
	TxCompleted TransactionStatus = "Completed"
	TxPending   TransactionStatus = "Pending"
	TxFailed    TransactionStatus = "Failed"
)

// Transaction is an append-only audit record. One is written per balance
// mutation per account (accounts/{uid}/transactions/{id}), plus an optional
// global feed entry (transactions/{id}).
type Transaction struct {
	Type        string            `json:"type"`
	Amount      int64             `json:"amount"`
	Status      TransactionStatus `json:"status"`
	Date        string            `json:"date"`
	Description string            `json:"description"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
}

// Record type helpers. Direction and token combine into strings such as
// "in VSD" or "out VSD Lite", matching the persisted history format.
func txTypeIn(token Token) string  { return "in " + string(token) }
func txTypeOut(token Token) string { return "out " + string(token) }

// Persisted collection layout.
const (
	CollectionAccounts     = "accounts"
	CollectionTransactions = "transactions"
)

// AccountTransactions returns the per-account transaction subcollection name.
func AccountTransactions(uid string) string {
	return CollectionAccounts + "/" + uid + "/" + CollectionTransactions
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// NormalizeRoles deduplicates the role set and guarantees the permanent
// "user" role is present.
func NormalizeRoles(roles []Role) []Role {
	seen := make(map[Role]bool, len(roles)+1)
	out := make([]Role, 0, len(roles)+1)
	for _, role := range append([]Role{RoleUser}, roles...) {
		role = Role(strings.TrimSpace(string(role)))
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}
