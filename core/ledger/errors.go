package ledger

import "errors"

var (
	// ErrAccountNotFound is returned when a referenced account document is missing.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountSuspended is returned when a mutating operation targets a suspended account.
	ErrAccountSuspended = errors.New("ledger: account suspended")
	// ErrInsufficientBalance is returned when the debited balance is short.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrSelfTransfer is returned when sender and recipient are the same account.
	ErrSelfTransfer = errors.New("ledger: transfer to self not allowed")
	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInvalidToken is returned when the token is not VSD or VSD Lite.
	ErrInvalidToken = errors.New("ledger: unknown token")
	// ErrNotDivisible is returned when a lite-to-main conversion amount is not
	// a whole multiple of the conversion rate.
	ErrNotDivisible = errors.New("ledger: amount must be a multiple of the conversion rate")
	// ErrForbidden is returned when the acting identity lacks the required role.
	ErrForbidden = errors.New("ledger: operation requires admin role")
)
