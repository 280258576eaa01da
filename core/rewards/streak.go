// Package rewards computes login-streak and task rewards and feeds them into
// the ledger. Streak evaluation and reward issuance are applied inside one
// store transaction so a crash can never advance the streak counter without
// recording the reward, or the reverse.
package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vsdnetwork/core/ledger"
	"vsdnetwork/docstore"
)

const (
	// DailyReward is the VSD Lite amount issued per qualifying login day.
	DailyReward int64 = 25
	// MaxStreak caps the login streak counter.
	MaxStreak = 7
)

// Engine evaluates reward state for accounts. It is stateless between calls;
// all durable state lives in the account documents and claim records.
type Engine struct {
	ledger *ledger.Service
	log    *slog.Logger
	nowFn  func() time.Time
}

// NewEngine constructs a reward engine on top of the ledger service.
func NewEngine(svc *ledger.Service, logger *slog.Logger) *Engine {
	if svc == nil {
		panic("rewards: ledger service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ledger: svc, log: logger, nowFn: time.Now}
}

// SetNow overrides the time source. It is intended for tests.
func (e *Engine) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// StreakTransition is the outcome of evaluating the streak state machine for
// one login.
type StreakTransition struct {
	Streak  int
	Reward  int64
	Changed bool
}

// NextStreak applies the login-streak transition for a login at time now.
// Same calendar day: no transition. Consecutive day within the same month:
// streak+1, capped. Anything else (gap, month boundary, first login) resets
// the streak to 1. At most one reward per calendar day.
func NextStreak(current int, lastDay time.Time, now time.Time) StreakTransition {
	now = now.UTC()
	if !lastDay.IsZero() {
		lastDay = lastDay.UTC()
		if sameDay(now, lastDay) {
			return StreakTransition{Streak: current, Changed: false}
		}
		if !sameMonth(now, lastDay) {
			current = 0
		}
	}

	yesterday := now.AddDate(0, 0, -1)
	if !lastDay.IsZero() && sameDay(yesterday, lastDay) {
		current++
	} else {
		current = 1
	}
	if current > MaxStreak {
		current = MaxStreak
	}
	return StreakTransition{Streak: current, Reward: DailyReward, Changed: true}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return ay == by && am == bm
}

// StreakResult reports the outcome of a daily streak claim.
type StreakResult struct {
	Streak   int
	Rewarded bool
	Amount   int64
}

// ClaimDailyStreak evaluates the login streak for uid and issues the daily
// reward when due. Calling it again within the same calendar day is a no-op.
// The streak fields, the balance credit and the transaction record are
// applied as one atomic unit.
func (e *Engine) ClaimDailyStreak(ctx context.Context, uid string) (*StreakResult, error) {
	now := e.nowFn().UTC()
	var result StreakResult
	err := e.ledger.Store().RunTransaction(ctx, func(tx *docstore.Tx) error {
		account, err := e.ledger.ActiveAccountTx(tx, uid)
		if err != nil {
			return err
		}
		var lastDay time.Time
		if account.LastStreakDay != "" {
			parsed, err := time.Parse(time.RFC3339, account.LastStreakDay)
			if err == nil {
				lastDay = parsed
			}
		}
		transition := NextStreak(account.LoginStreak, lastDay, now)
		if !transition.Changed {
			result = StreakResult{Streak: account.LoginStreak, Rewarded: false}
			return nil
		}

		account.LoginStreak = transition.Streak
		account.LastStreakDay = now.Format(time.RFC3339)
		if transition.Reward > 0 {
			account.VSDLiteBalance += transition.Reward
		}
		if err := tx.Set(ledger.CollectionAccounts, uid, account); err != nil {
			return err
		}

		if transition.Reward > 0 {
			record := ledger.Transaction{
				Type:        "in " + string(ledger.TokenVSDLite),
				Amount:      transition.Reward,
				Status:      ledger.TxCompleted,
				Date:        now.Format(time.RFC3339),
				Description: fmt.Sprintf("Daily login reward for %s (Streak day %d)", now.Format("January 2, 2006"), transition.Streak),
				From:        ledger.NetworkName,
				To:          account.DisplayName,
			}
			if _, err := tx.Create(ledger.AccountTransactions(uid), record); err != nil {
				return err
			}
		}
		result = StreakResult{Streak: transition.Streak, Rewarded: transition.Reward > 0, Amount: transition.Reward}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Rewarded {
		e.log.Info("streak reward issued", "uid", uid, "streak", result.Streak, "amount", result.Amount)
	}
	return &result, nil
}
