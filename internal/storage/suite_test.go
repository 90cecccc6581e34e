package storage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the behaviour shared by every Store backend.
func runStoreSuite(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	// Migrations are idempotent.
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Ping(ctx))

	t.Run("DepositAndBalance", func(t *testing.T) {
		bal, err := store.AccountBalance(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, bal)

		require.NoError(t, store.Deposit(ctx, "alice", 500))
		require.NoError(t, store.Deposit(ctx, "alice", 250))
		bal, err = store.AccountBalance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint64(750), bal)

		assert.ErrorIs(t, store.Deposit(ctx, "alice", 0), ErrAmountOutOfRange)
		assert.ErrorIs(t, store.Deposit(ctx, "alice", math.MaxUint64), ErrAmountOutOfRange)
	})

	t.Run("DepositOverflow", func(t *testing.T) {
		require.NoError(t, store.Deposit(ctx, "whale", math.MaxInt64))
		assert.ErrorIs(t, store.Deposit(ctx, "whale", 1), ErrBalanceOverflow)
		bal, err := store.AccountBalance(ctx, "whale")
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxInt64), bal)
	})

	t.Run("EscrowAndPayout", func(t *testing.T) {
		require.NoError(t, store.Deposit(ctx, "owner1", 1000))
		require.NoError(t, store.Escrow(ctx, 1, "owner1", 600, nil))

		pool, err := store.BalanceFor(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(600), pool)
		bal, _ := store.AccountBalance(ctx, "owner1")
		assert.Equal(t, uint64(400), bal)

		require.NoError(t, store.Payout(ctx, 1, "finder1", 600, nil))
		pool, _ = store.BalanceFor(ctx, 1)
		assert.Zero(t, pool)
		bal, _ = store.AccountBalance(ctx, "finder1")
		assert.Equal(t, uint64(600), bal)
	})

	t.Run("EscrowInsufficientFunds", func(t *testing.T) {
		require.NoError(t, store.Deposit(ctx, "owner2", 100))
		err := store.Escrow(ctx, 2, "owner2", 101, nil)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		bal, _ := store.AccountBalance(ctx, "owner2")
		assert.Equal(t, uint64(100), bal)
		pool, _ := store.BalanceFor(ctx, 2)
		assert.Zero(t, pool)

		assert.ErrorIs(t, store.Escrow(ctx, 2, "ghost", 1, nil), ErrInsufficientFunds)
	})

	t.Run("RefundBeyondPool", func(t *testing.T) {
		require.NoError(t, store.Deposit(ctx, "owner3", 300))
		require.NoError(t, store.Escrow(ctx, 3, "owner3", 300, nil))

		assert.ErrorIs(t, store.Refund(ctx, 3, "owner3", 301, nil), ErrInsufficientFunds)
		require.NoError(t, store.Refund(ctx, 3, "owner3", 300, nil))
		assert.ErrorIs(t, store.Refund(ctx, 3, "owner3", 1, nil), ErrInsufficientFunds)
		assert.ErrorIs(t, store.Payout(ctx, 404, "x", 1, nil), ErrInsufficientFunds)

		bal, _ := store.AccountBalance(ctx, "owner3")
		assert.Equal(t, uint64(300), bal)
	})

	t.Run("ListEntries", func(t *testing.T) {
		entries, err := store.ListEntries(ctx, EntryFilter{Account: "owner3"})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, EntryDeposit, entries[0].Kind)
		assert.Nil(t, entries[0].CaseID)
		assert.Equal(t, EntryEscrow, entries[1].Kind)
		assert.Equal(t, EntryRefund, entries[2].Kind)
		require.NotNil(t, entries[2].CaseID)
		assert.Equal(t, uint64(3), *entries[2].CaseID)

		caseID := uint64(1)
		entries, err = store.ListEntries(ctx, EntryFilter{CaseID: &caseID, Limit: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, EntryEscrow, entries[0].Kind)
		assert.Equal(t, uint64(600), entries[0].Amount)
	})

	t.Run("ConcurrentEscrowNeverOverdraws", func(t *testing.T) {
		require.NoError(t, store.Deposit(ctx, "racer", 10))

		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := store.Escrow(ctx, uint64(100+i), "racer", 1, nil); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 10, ok)
		bal, _ := store.AccountBalance(ctx, "racer")
		assert.Zero(t, bal)
	})

	t.Run("Journal", func(t *testing.T) {
		for seq := uint64(3); seq >= 1; seq-- {
			require.NoError(t, store.AppendEvent(ctx, &EventRecord{
				Seq:     seq,
				Kind:    "case.created",
				CaseID:  seq - 1,
				Payload: []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
			}))
		}

		events, err := store.ListEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, ev := range events {
			assert.Equal(t, uint64(i+1), ev.Seq)
			assert.NotEmpty(t, ev.ID)
			assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i+1), string(ev.Payload))
		}

		err = store.AppendEvent(ctx, &EventRecord{Seq: 2, Kind: "case.created", Payload: []byte(`{}`)})
		assert.Error(t, err, "duplicate sequence must be rejected")
	})

	t.Run("MovementCarriesEvent", func(t *testing.T) {
		require.NoError(t, store.Deposit(ctx, "owner4", 50))
		require.NoError(t, store.Escrow(ctx, 9, "owner4", 50, &EventRecord{
			Seq: 10, Kind: "case.created", CaseID: 9, Payload: []byte(`{"seq":10}`),
		}))

		// A journal conflict rolls the movement back with it.
		err := store.Refund(ctx, 9, "owner4", 50, &EventRecord{Seq: 10, Kind: "case.cancelled", CaseID: 9, Payload: []byte(`{}`)})
		require.Error(t, err)
		pool, _ := store.BalanceFor(ctx, 9)
		assert.Equal(t, uint64(50), pool)

		// A failed movement journals nothing.
		err = store.Escrow(ctx, 9, "owner4", 1, &EventRecord{Seq: 11, Kind: "case.bounty_increased", CaseID: 9, Payload: []byte(`{}`)})
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		require.NoError(t, store.Refund(ctx, 9, "owner4", 50, &EventRecord{
			Seq: 11, Kind: "case.cancelled", CaseID: 9, Payload: []byte(`{"seq":11}`),
		}))
		events, err := store.ListEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 5)
		assert.Equal(t, "case.created", events[3].Kind)
		assert.Equal(t, "case.cancelled", events[4].Kind)
	})

	t.Run("HighestPoolCase", func(t *testing.T) {
		require.NoError(t, store.Deposit(ctx, "owner5", 1))
		require.NoError(t, store.Escrow(ctx, 5000, "owner5", 1, nil))
		id, ok, err := store.HighestPoolCase(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(5000), id)
	})

	t.Run("APIKeys", func(t *testing.T) {
		key, err := store.CreateAPIKey(ctx, "ci", "alice")
		require.NoError(t, err)
		assert.Contains(t, key, "lp_key_")

		ak, err := store.ValidateAPIKey(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "ci", ak.Name)
		assert.Equal(t, "alice", ak.Account)
		assert.NotEqual(t, key, ak.KeyHash)

		_, err = store.ValidateAPIKey(ctx, "lp_key_bogus")
		assert.ErrorIs(t, err, ErrNotFound)

		keys, err := store.ListAPIKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.NotEmpty(t, keys[0].LastUsedAt)

		require.NoError(t, store.RevokeAPIKey(ctx, ak.ID))
		_, err = store.ValidateAPIKey(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.RevokeAPIKey(ctx, ak.ID), ErrNotFound)

		keys, err = store.ListAPIKeys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
