package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vsdnetwork/core/ledger"
	"vsdnetwork/docstore"
)

var (
	// ErrTaskAlreadyClaimed is returned when a (uid, taskId) reward was issued before.
	ErrTaskAlreadyClaimed = errors.New("rewards: task reward already claimed")
	// ErrTaskNotFound is returned when no advertisement backs the task id.
	ErrTaskNotFound = errors.New("rewards: task not found")
)

const (
	// CollectionTaskClaims holds one record per issued task reward, keyed by
	// uid and task id. The record is checked and written inside the same
	// transaction as the credit, so a reward cannot be replayed.
	CollectionTaskClaims = "task_claims"
	// CollectionAdvertisements holds the advertiser task documents. They are
	// the single source of the reward amount: a claim for a task id with no
	// advertisement document fails.
	CollectionAdvertisements = "advertisements"
)

// TaskClaim is the durable replay guard for one issued task reward.
type TaskClaim struct {
	UID       string `json:"uid"`
	TaskID    string `json:"taskId"`
	ClaimedAt string `json:"claimedAt"`
}

func taskClaimID(uid, taskID string) string {
	return uid + "_" + taskID
}

// TaskResult reports an issued task reward.
type TaskResult struct {
	Amount     int64
	NewBalance int64
}

// ClaimTask issues the one-shot reward for completing a task. The reward
// amount and title are read from the backing advertisement document inside
// the transaction, never from the caller. The claim record, the balance
// credit, the transaction record and the advertisement click counter are all
// written in one atomic unit; a second claim for the same (uid, taskId) pair
// fails with ErrTaskAlreadyClaimed.
func (e *Engine) ClaimTask(ctx context.Context, uid, taskID string) (*TaskResult, error) {
	if taskID == "" {
		return nil, errors.New("rewards: task id required")
	}
	now := e.nowFn().UTC()
	var result TaskResult
	err := e.ledger.Store().RunTransaction(ctx, func(tx *docstore.Tx) error {
		var ad map[string]json.RawMessage
		if err := tx.Get(CollectionAdvertisements, taskID, &ad); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		reward := adInt(ad, "reward")
		if reward <= 0 {
			return ledger.ErrInvalidAmount
		}

		var existing TaskClaim
		err := tx.Get(CollectionTaskClaims, taskClaimID(uid, taskID), &existing)
		if err == nil {
			return ErrTaskAlreadyClaimed
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}

		account, err := e.ledger.ActiveAccountTx(tx, uid)
		if err != nil {
			return err
		}
		account.VSDLiteBalance += reward
		if err := tx.Set(ledger.CollectionAccounts, uid, account); err != nil {
			return err
		}

		claim := TaskClaim{UID: uid, TaskID: taskID, ClaimedAt: now.Format(time.RFC3339)}
		if err := tx.Set(CollectionTaskClaims, taskClaimID(uid, taskID), claim); err != nil {
			return err
		}

		desc := adString(ad, "title")
		if desc == "" {
			desc = "Task reward"
		}
		record := ledger.Transaction{
			Type:        "in " + string(ledger.TokenVSDLite),
			Amount:      reward,
			Status:      ledger.TxCompleted,
			Date:        now.Format(time.RFC3339),
			Description: fmt.Sprintf("Reward for: %s", desc),
			From:        ledger.NetworkName,
			To:          account.DisplayName,
		}
		if _, err := tx.Create(ledger.AccountTransactions(uid), record); err != nil {
			return err
		}

		if err := bumpAdClicks(tx, taskID, ad); err != nil {
			return err
		}
		result = TaskResult{Amount: reward, NewBalance: account.VSDLiteBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("task reward issued", "uid", uid, "task", taskID, "amount", result.Amount)
	return &result, nil
}

func adInt(ad map[string]json.RawMessage, field string) int64 {
	var value int64
	if raw, ok := ad[field]; ok {
		_ = json.Unmarshal(raw, &value)
	}
	return value
}

func adString(ad map[string]json.RawMessage, field string) string {
	var value string
	if raw, ok := ad[field]; ok {
		_ = json.Unmarshal(raw, &value)
	}
	return value
}

// bumpAdClicks increments the click counter on the advertisement backing the
// task. Unknown fields on the document are preserved.
func bumpAdClicks(tx *docstore.Tx, taskID string, ad map[string]json.RawMessage) error {
	encoded, err := json.Marshal(adInt(ad, "clicks") + 1)
	if err != nil {
		return err
	}
	ad["clicks"] = encoded
	return tx.Set(CollectionAdvertisements, taskID, ad)
}
