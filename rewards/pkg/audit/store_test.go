package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
	truebwtesting "github.com/malbeclabs/truebw/utils/pkg/testing"
)

func TestTBW_Audit_PostgresStore(t *testing.T) {
	t.Parallel()

	t.Run("returns error when pool is missing", func(t *testing.T) {
		t.Parallel()
		s, err := NewPostgresStore(truebwtesting.NewLogger(), nil)
		require.Error(t, err)
		require.Nil(t, s)
		require.Contains(t, err.Error(), "postgres pool is required")
	})

	t.Run("round trips a record in voter order", func(t *testing.T) {
		t.Parallel()
		s, err := NewPostgresStore(truebwtesting.NewLogger(), testPool(t))
		require.NoError(t, err)
		ctx := t.Context()

		batch := testBatch(42)
		batch.PerVoter = append(batch.PerVoter, tbw.VoterReward{
			Wallet: "AVoter0", Share: dec("0.00000001"), Power: dec("0.00000001"), Reward: dec("0"),
		})
		at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.InsertRecord(ctx, NewRecord(batch, at)))

		rec, err := s.GetRecord(ctx, 42)
		require.NoError(t, err)
		require.Equal(t, uint64(42), rec.Height)
		require.True(t, dec("9.9").Equal(rec.ValidatorFee))
		require.True(t, dec("89.1").Equal(rec.VotersPool))
		require.True(t, rec.Unallocated.IsZero())
		require.Equal(t, at, rec.CreatedAt.UTC())
		require.Len(t, rec.PerVoter, 3)
		require.Equal(t, "AVoter1", rec.PerVoter[0].Wallet)
		require.Equal(t, "AVoter0", rec.PerVoter[2].Wallet)
		require.True(t, dec("44.55").Equal(rec.PerVoter[1].Reward))
		require.True(t, dec("0.00000001").Equal(rec.PerVoter[2].Share))
	})

	t.Run("rejects a second record for the same height", func(t *testing.T) {
		t.Parallel()
		s, err := NewPostgresStore(truebwtesting.NewLogger(), testPool(t))
		require.NoError(t, err)
		ctx := t.Context()

		require.NoError(t, s.InsertRecord(ctx, NewRecord(testBatch(7), time.Now().UTC())))

		other := testBatch(7)
		other.PerVoter = other.PerVoter[:1]
		other.LicenseFee = dec("2")
		err = s.InsertRecord(ctx, NewRecord(other, time.Now().UTC()))
		require.ErrorIs(t, err, ErrDuplicateRecord)

		rec, err := s.GetRecord(ctx, 7)
		require.NoError(t, err)
		require.True(t, dec("1").Equal(rec.LicenseFee))
		require.Len(t, rec.PerVoter, 2)
	})

	t.Run("degenerate batch has no voter rows", func(t *testing.T) {
		t.Parallel()
		s, err := NewPostgresStore(truebwtesting.NewLogger(), testPool(t))
		require.NoError(t, err)

		batch := testBatch(3)
		batch.PerVoter = nil
		batch.TotalVotersPayout = dec("0")
		batch.Unallocated = dec("89.1")
		require.NoError(t, s.InsertRecord(t.Context(), NewRecord(batch, time.Now().UTC())))

		rec, err := s.GetRecord(t.Context(), 3)
		require.NoError(t, err)
		require.Empty(t, rec.PerVoter)
		require.True(t, dec("89.1").Equal(rec.Unallocated))
	})

	t.Run("missing height", func(t *testing.T) {
		t.Parallel()
		s, err := NewPostgresStore(truebwtesting.NewLogger(), testPool(t))
		require.NoError(t, err)

		_, err = s.GetRecord(t.Context(), 1)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestTBW_Audit_ClickHouseStatsStore(t *testing.T) {
	t.Parallel()

	t.Run("returns error when client is missing", func(t *testing.T) {
		t.Parallel()
		s, err := NewClickHouseStatsStore(truebwtesting.NewLogger(), nil)
		require.Error(t, err)
		require.Nil(t, s)
		require.Contains(t, err.Error(), "clickhouse client is required")
	})

	t.Run("appends stats without a duplicate guard", func(t *testing.T) {
		t.Parallel()
		client := testClickHouse(t)
		s, err := NewClickHouseStatsStore(truebwtesting.NewLogger(), client)
		require.NoError(t, err)
		ctx := clickhouse.ContextWithSyncInsert(t.Context())

		batch := testBatch(5)
		stats := NewForgeStats(batch, testValidatorPK, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, s.InsertForgeStats(ctx, stats, batch.PerVoter))
		require.NoError(t, s.InsertForgeStats(ctx, stats, batch.PerVoter))

		conn, err := client.Conn(ctx)
		require.NoError(t, err)

		var n uint64
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT count() FROM fact_tbw_forge_stats WHERE height = ?", uint64(5)).Scan(&n))
		require.Equal(t, uint64(2), n)

		require.NoError(t, conn.QueryRow(ctx,
			"SELECT count() FROM fact_tbw_voter_rewards WHERE height = ?", uint64(5)).Scan(&n))
		require.Equal(t, uint64(4), n)

		var voters, blacklisted uint32
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT voter_count, blacklisted_voter_count FROM fact_tbw_forge_stats WHERE height = ? LIMIT 1",
			uint64(5)).Scan(&voters, &blacklisted))
		require.Equal(t, uint32(3), voters)
		require.Equal(t, uint32(1), blacklisted)
	})
}
