// Package wallettest holds the behaviour every wallet.Store implementation must share.
package wallettest

import (
	"sync"
	"testing"
	"time"

	"skillzio/internal/wallet"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type SetupFunc func(t *testing.T) wallet.Store

func TestStoreContract(t *testing.T, setup SetupFunc) {
	t.Run("GetOrCreate", func(t *testing.T) {
		runGetOrCreateTests(t, setup)
	})

	t.Run("Apply", func(t *testing.T) {
		runApplyTests(t, setup)
	})

	t.Run("ConcurrentDebits", func(t *testing.T) {
		runConcurrentDebitTests(t, setup)
	})
}

func runGetOrCreateTests(t *testing.T, setup SetupFunc) {
	t.Run("ok, creates zero balance wallet once", func(t *testing.T) {
		store := setup(t)
		owner := uuid.New()

		w, err := store.GetOrCreate(t.Context(), owner, wallet.RoleInstructor)
		require.NoError(t, err)
		require.Equal(t, owner, w.OwnerID)
		require.Equal(t, wallet.RoleInstructor, w.Role)
		require.Zero(t, w.Balance)

		again, err := store.GetOrCreate(t.Context(), owner, wallet.RoleStudent)
		require.NoError(t, err)
		require.Equal(t, wallet.RoleInstructor, again.Role)
	})

	t.Run("fail, get unknown owner", func(t *testing.T) {
		store := setup(t)

		_, err := store.Get(t.Context(), uuid.New())
		require.ErrorIs(t, err, wallet.ErrWalletNotFound)
	})
}

func runApplyTests(t *testing.T, setup SetupFunc) {
	t.Run("ok, credit then debit", func(t *testing.T) {
		store := setup(t)
		owner := uuid.New()

		w, applied, err := store.Apply(t.Context(), wallet.RoleStudent, newTxn(owner, 500, wallet.DirectionCredit, "dep-1"))
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, int64(500), w.Balance)

		w, applied, err = store.Apply(t.Context(), wallet.RoleStudent, newTxn(owner, 200, wallet.DirectionDebit, "order-1"))
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, int64(300), w.Balance)

		txns, err := store.Transactions(t.Context(), owner)
		require.NoError(t, err)
		require.Len(t, txns, 2)
	})

	t.Run("ok, replayed key is not applied twice", func(t *testing.T) {
		store := setup(t)
		owner := uuid.New()

		_, _, err := store.Apply(t.Context(), wallet.RoleInstructor, newTxn(owner, 450, wallet.DirectionCredit, "settle-1"))
		require.NoError(t, err)

		w, applied, err := store.Apply(t.Context(), wallet.RoleInstructor, newTxn(owner, 450, wallet.DirectionCredit, "settle-1"))
		require.NoError(t, err)
		require.False(t, applied)
		require.Equal(t, int64(450), w.Balance)

		txns, err := store.Transactions(t.Context(), owner)
		require.NoError(t, err)
		require.Len(t, txns, 1)
	})

	t.Run("ok, same key for different owners applies to both", func(t *testing.T) {
		store := setup(t)
		instructor, admin := uuid.New(), uuid.New()

		_, applied, err := store.Apply(t.Context(), wallet.RoleInstructor, newTxn(instructor, 90, wallet.DirectionCredit, "settle-2"))
		require.NoError(t, err)
		require.True(t, applied)

		_, applied, err = store.Apply(t.Context(), wallet.RoleAdmin, newTxn(admin, 10, wallet.DirectionCredit, "settle-2"))
		require.NoError(t, err)
		require.True(t, applied)
	})

	t.Run("fail, debit beyond balance leaves wallet untouched", func(t *testing.T) {
		store := setup(t)
		owner := uuid.New()

		_, _, err := store.Apply(t.Context(), wallet.RoleStudent, newTxn(owner, 100, wallet.DirectionCredit, "dep-2"))
		require.NoError(t, err)

		_, _, err = store.Apply(t.Context(), wallet.RoleStudent, newTxn(owner, 101, wallet.DirectionDebit, "order-2"))
		require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

		w, err := store.Get(t.Context(), owner)
		require.NoError(t, err)
		require.Equal(t, int64(100), w.Balance)

		txns, err := store.Transactions(t.Context(), owner)
		require.NoError(t, err)
		require.Len(t, txns, 1)
	})

	t.Run("fail, debit on missing wallet does not create it", func(t *testing.T) {
		store := setup(t)
		owner := uuid.New()

		_, _, err := store.Apply(t.Context(), wallet.RoleStudent, newTxn(owner, 1, wallet.DirectionDebit, "order-3"))
		require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

		_, err = store.Get(t.Context(), owner)
		require.ErrorIs(t, err, wallet.ErrWalletNotFound)
	})
}

func runConcurrentDebitTests(t *testing.T, setup SetupFunc) {
	t.Run("ok, only affordable debits succeed", func(t *testing.T) {
		store := setup(t)
		owner := uuid.New()

		_, _, err := store.Apply(t.Context(), wallet.RoleStudent, newTxn(owner, 500, wallet.DirectionCredit, "dep-3"))
		require.NoError(t, err)

		const attempts = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, applied, err := store.Apply(t.Context(), wallet.RoleStudent, newTxn(owner, 100, wallet.DirectionDebit, uuid.NewString()))
				if err == nil && applied {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 5, succeeded)
		w, err := store.Get(t.Context(), owner)
		require.NoError(t, err)
		require.Zero(t, w.Balance)
	})
}

func newTxn(owner uuid.UUID, amount int64, dir wallet.Direction, key string) wallet.Transaction {
	return wallet.Transaction{
		ID:            uuid.New(),
		OwnerID:       owner,
		Amount:        amount,
		Direction:     dir,
		Description:   "contract test",
		ExternalTxnID: key,
		CreatedAt:     time.Now().UTC(),
	}
}
