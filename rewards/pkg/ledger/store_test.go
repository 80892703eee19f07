package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
	truebwtesting "github.com/malbeclabs/truebw/utils/pkg/testing"
)

func reward(wallet, amount string) tbw.VoterReward {
	return tbw.VoterReward{Wallet: wallet, Reward: decimal.RequireFromString(amount)}
}

func requirePending(t *testing.T, s *Store, wallet, want string) {
	t.Helper()
	v, err := s.GetVoter(t.Context(), wallet)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString(want).Equal(v.PendingBalance),
		"pending balance of %s: want %s, got %s", wallet, want, v.PendingBalance)
}

func TestTBW_Ledger_Store_NewStore(t *testing.T) {
	t.Parallel()

	t.Run("returns error when logger is missing", func(t *testing.T) {
		t.Parallel()
		store, err := NewStore(StoreConfig{})
		require.Error(t, err)
		require.Nil(t, store)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when pool is missing", func(t *testing.T) {
		t.Parallel()
		store, err := NewStore(StoreConfig{Logger: truebwtesting.NewLogger()})
		require.Error(t, err)
		require.Nil(t, store)
		require.Contains(t, err.Error(), "postgres pool is required")
	})

	t.Run("defaults clock", func(t *testing.T) {
		t.Parallel()
		pool := testPool(t)
		store, err := NewStore(StoreConfig{Logger: truebwtesting.NewLogger(), Pool: pool})
		require.NoError(t, err)
		require.NotNil(t, store.cfg.Clock)
	})
}

func TestTBW_Ledger_Store_ApplyBatch(t *testing.T) {
	t.Parallel()

	t.Run("creates entries for first-time voters", func(t *testing.T) {
		t.Parallel()
		store, _, clock := testStore(t)
		ctx := t.Context()

		res, err := store.ApplyBatch(ctx, 100, []tbw.VoterReward{
			reward("AVoter1", "44.55"),
			reward("AVoter2", "44.55"),
		})
		require.NoError(t, err)
		require.Equal(t, uint64(100), res.Height)
		require.Equal(t, 2, res.NewVoters)
		require.Equal(t, 0, res.Updated)
		require.Equal(t, int64(2), res.VoterCount)

		v, err := store.GetVoter(ctx, "AVoter1")
		require.NoError(t, err)
		require.True(t, v.PaidBalance.IsZero())
		require.True(t, decimal.RequireFromString("44.55").Equal(v.PendingBalance))
		require.Equal(t, clock.Now().UTC(), v.CreatedAt.UTC())
		require.Equal(t, v.CreatedAt, v.UpdatedAt)
	})

	t.Run("accumulates pending balance across heights", func(t *testing.T) {
		t.Parallel()
		store, _, _ := testStore(t)
		ctx := t.Context()

		batch := []tbw.VoterReward{reward("AVoter1", "0.12345678")}
		_, err := store.ApplyBatch(ctx, 1, batch)
		require.NoError(t, err)
		res, err := store.ApplyBatch(ctx, 2, batch)
		require.NoError(t, err)
		require.Equal(t, 0, res.NewVoters)
		require.Equal(t, 1, res.Updated)
		require.Equal(t, int64(1), res.VoterCount)

		requirePending(t, store, "AVoter1", "0.24691356")
	})

	t.Run("rejects a height applied twice", func(t *testing.T) {
		t.Parallel()
		store, _, _ := testStore(t)
		ctx := t.Context()

		batch := []tbw.VoterReward{reward("AVoter1", "1")}
		_, err := store.ApplyBatch(ctx, 7, batch)
		require.NoError(t, err)

		res, err := store.ApplyBatch(ctx, 7, batch)
		require.Nil(t, res)
		require.ErrorIs(t, err, ErrBlockAlreadyApplied)

		requirePending(t, store, "AVoter1", "1")
		count, err := store.VoterCount(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), count)
	})

	t.Run("voter count sums new voters across batches", func(t *testing.T) {
		t.Parallel()
		store, _, _ := testStore(t)
		ctx := t.Context()

		_, err := store.ApplyBatch(ctx, 1, []tbw.VoterReward{reward("AVoter1", "1"), reward("AVoter2", "1")})
		require.NoError(t, err)
		_, err = store.ApplyBatch(ctx, 2, []tbw.VoterReward{reward("AVoter2", "1"), reward("AVoter3", "1")})
		require.NoError(t, err)
		res, err := store.ApplyBatch(ctx, 3, []tbw.VoterReward{
			reward("AVoter4", "1"), reward("AVoter5", "1"), reward("AVoter6", "1"),
		})
		require.NoError(t, err)
		require.Equal(t, int64(6), res.VoterCount)

		count, err := store.VoterCount(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(6), count)
	})

	t.Run("empty batch records the height", func(t *testing.T) {
		t.Parallel()
		store, _, _ := testStore(t)
		ctx := t.Context()

		res, err := store.ApplyBatch(ctx, 5, nil)
		require.NoError(t, err)
		require.Equal(t, int64(0), res.VoterCount)

		height, ok, err := store.LastAppliedHeight(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(5), height)
	})

	t.Run("rolls back the whole batch on failure", func(t *testing.T) {
		t.Parallel()
		store, _, _ := testStore(t)
		ctx := t.Context()

		_, err := store.ApplyBatch(ctx, 1, []tbw.VoterReward{reward("AVoter1", "1")})
		require.NoError(t, err)

		// A negative balance violates the table constraint after the first update is queued.
		_, err = store.ApplyBatch(ctx, 2, []tbw.VoterReward{
			reward("AVoter1", "5"),
			reward("AVoter2", "-3"),
		})
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrBlockAlreadyApplied))

		requirePending(t, store, "AVoter1", "1")
		_, err = store.GetVoter(ctx, "AVoter2")
		require.ErrorIs(t, err, ErrVoterNotFound)

		count, err := store.VoterCount(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), count)

		height, _, err := store.LastAppliedHeight(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), height)
	})

	t.Run("concurrent batches do not lose updates", func(t *testing.T) {
		t.Parallel()
		store, _, _ := testStore(t)
		ctx := t.Context()

		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func(height uint64) {
				defer wg.Done()
				_, err := store.ApplyBatch(ctx, height, []tbw.VoterReward{
					reward("AShared", "0.5"),
					reward(fmt.Sprintf("AOwn%d", height), "1"),
				})
				errs <- err
			}(uint64(i + 1))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		requirePending(t, store, "AShared", "4")
		count, err := store.VoterCount(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(n+1), count)
	})
}

func TestTBW_Ledger_Store_Reads(t *testing.T) {
	t.Parallel()

	t.Run("empty ledger", func(t *testing.T) {
		t.Parallel()
		store, _, _ := testStore(t)
		ctx := t.Context()

		_, err := store.GetVoter(ctx, "AVoter1")
		require.ErrorIs(t, err, ErrVoterNotFound)

		count, err := store.VoterCount(ctx)
		require.NoError(t, err)
		require.Zero(t, count)

		_, ok, err := store.LastAppliedHeight(ctx)
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = store.ResumeHeight(ctx)
		require.NoError(t, err)
		require.False(t, ok)

		voters, total, err := store.ListVoters(ctx, 10, 0)
		require.NoError(t, err)
		require.Zero(t, total)
		require.Empty(t, voters)
	})

	t.Run("resume height steps back to the first unrecorded block", func(t *testing.T) {
		t.Parallel()
		store, pool, _ := testStore(t)
		ctx := t.Context()

		for _, h := range []uint64{3, 5, 6} {
			_, err := store.ApplyBatch(ctx, h, []tbw.VoterReward{reward("AVoter1", "1")})
			require.NoError(t, err)
		}
		recordHeight := func(h int64) {
			_, err := pool.Exec(ctx,
				`INSERT INTO block_rewards (height, total_income, license_fee, validator_fee, voters_pool, total_payout, unallocated)
				 VALUES ($1, 0, 0, 0, 0, 0, 0)`, h)
			require.NoError(t, err)
		}
		recordHeight(3)
		recordHeight(6)

		height, ok, err := store.ResumeHeight(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(4), height)

		recordHeight(5)
		height, _, err = store.ResumeHeight(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(6), height)
	})

	t.Run("lists voters by pending balance", func(t *testing.T) {
		t.Parallel()
		store, _, _ := testStore(t)
		ctx := t.Context()

		_, err := store.ApplyBatch(ctx, 1, []tbw.VoterReward{
			reward("AVoter1", "1"),
			reward("AVoter2", "3"),
			reward("AVoter3", "2"),
		})
		require.NoError(t, err)

		voters, total, err := store.ListVoters(ctx, 2, 0)
		require.NoError(t, err)
		require.Equal(t, 3, total)
		require.Len(t, voters, 2)
		require.Equal(t, "AVoter2", voters[0].Wallet)
		require.Equal(t, "AVoter3", voters[1].Wallet)

		voters, _, err = store.ListVoters(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, voters, 1)
		require.Equal(t, "AVoter1", voters[0].Wallet)
	})

	t.Run("recount repairs a drifted counter", func(t *testing.T) {
		t.Parallel()
		store, pool, _ := testStore(t)
		ctx := t.Context()

		_, err := store.ApplyBatch(ctx, 1, []tbw.VoterReward{reward("AVoter1", "1"), reward("AVoter2", "1")})
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `UPDATE voter_count SET length = 17 WHERE id = 'count'`)
		require.NoError(t, err)

		before, after, err := store.RecountVoters(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(17), before)
		require.Equal(t, int64(2), after)
	})
}
