package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type counter struct {
	Value int64 `json:"value"`
}

func TestTransactionAppliesAllOrNothing(t *testing.T) {
	store := NewMemStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "counters", "a", counter{Value: 1}))

	boom := errors.New("boom")
	err := store.RunTransaction(ctx, func(tx *Tx) error {
		if err := tx.Set("counters", "a", counter{Value: 2}); err != nil {
			return err
		}
		if err := tx.Set("counters", "b", counter{Value: 9}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var got counter
	require.NoError(t, store.Get(ctx, "counters", "a", &got))
	require.Equal(t, int64(1), got.Value)
	require.ErrorIs(t, store.Get(ctx, "counters", "b", &got), ErrNotFound)

	require.NoError(t, store.RunTransaction(ctx, func(tx *Tx) error {
		if err := tx.Set("counters", "a", counter{Value: 2}); err != nil {
			return err
		}
		return tx.Set("counters", "b", counter{Value: 9})
	}))
	require.NoError(t, store.Get(ctx, "counters", "a", &got))
	require.Equal(t, int64(2), got.Value)
	require.NoError(t, store.Get(ctx, "counters", "b", &got))
	require.Equal(t, int64(9), got.Value)
}

func TestTransactionReadsItsOwnWrites(t *testing.T) {
	store := NewMemStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.RunTransaction(ctx, func(tx *Tx) error {
		if err := tx.Set("counters", "a", counter{Value: 5}); err != nil {
			return err
		}
		var got counter
		if err := tx.Get("counters", "a", &got); err != nil {
			return err
		}
		require.Equal(t, int64(5), got.Value)

		tx.Delete("counters", "a")
		err := tx.Get("counters", "a", &got)
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	store := NewMemStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "counters", "a", counter{Value: 0}))

	attempts := 0
	err := store.RunTransaction(ctx, func(tx *Tx) error {
		attempts++
		var got counter
		if err := tx.Get("counters", "a", &got); err != nil {
			return err
		}
		if attempts == 1 {
			// Concurrent writer bumps the version after our read.
			require.NoError(t, store.Put(ctx, "counters", "a", counter{Value: 100}))
		}
		return tx.Set("counters", "a", counter{Value: got.Value + 1})
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	var got counter
	require.NoError(t, store.Get(ctx, "counters", "a", &got))
	require.Equal(t, int64(101), got.Value)
}

func TestTransactionConflictBudgetExhausted(t *testing.T) {
	store := NewMemStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "counters", "a", counter{Value: 0}))

	attempts := 0
	err := store.RunTransaction(ctx, func(tx *Tx) error {
		attempts++
		var got counter
		if err := tx.Get("counters", "a", &got); err != nil {
			return err
		}
		// A writer wins the race on every attempt.
		require.NoError(t, store.Put(ctx, "counters", "a", counter{Value: got.Value + 10}))
		return tx.Set("counters", "a", counter{Value: got.Value + 1})
	})
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, maxTxAttempts, attempts)
}

func TestTransactionConflictOnObservedMissing(t *testing.T) {
	store := NewMemStore()
	defer store.Close()
	ctx := context.Background()

	attempts := 0
	err := store.RunTransaction(ctx, func(tx *Tx) error {
		attempts++
		var got counter
		err := tx.Get("counters", "a", &got)
		if attempts == 1 {
			require.ErrorIs(t, err, ErrNotFound)
			// Another writer creates the document before we commit.
			require.NoError(t, store.Put(ctx, "counters", "a", counter{Value: 7}))
		}
		return tx.Set("counters", "a", counter{Value: 1})
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestBatchCommitIsAtomicAndBumpsVersions(t *testing.T) {
	store := NewMemStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "counters", "a", counter{Value: 1}))
	require.NoError(t, store.Put(ctx, "counters", "b", counter{Value: 2}))

	batch := store.NewBatch()
	require.NoError(t, batch.Set("counters", "a", counter{Value: 0}))
	require.NoError(t, batch.Set("counters", "b", counter{Value: 0}))
	batch.Delete("counters", "missing")
	require.NoError(t, batch.Commit(ctx))

	var got counter
	require.NoError(t, store.Get(ctx, "counters", "a", &got))
	require.Zero(t, got.Value)

	// An optimistic transaction that read before the batch conflicts after it.
	attempts := 0
	err := store.RunTransaction(ctx, func(tx *Tx) error {
		attempts++
		var c counter
		if err := tx.Get("counters", "a", &c); err != nil {
			return err
		}
		if attempts == 1 {
			b := store.NewBatch()
			require.NoError(t, b.Set("counters", "a", counter{Value: 50}))
			require.NoError(t, b.Commit(ctx))
		}
		return tx.Set("counters", "a", counter{Value: c.Value + 1})
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.NoError(t, store.Get(ctx, "counters", "a", &got))
	require.Equal(t, int64(51), got.Value)
}
