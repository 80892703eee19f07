package dataset

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
	truebwtesting "github.com/malbeclabs/truebw/utils/pkg/testing"
)

type testEventSchema struct{}

func (s *testEventSchema) Name() string { return "test_events" }

func (s *testEventSchema) Columns() []string {
	return []string{"event_ts:DateTime64(3, 'UTC')", "height:UInt64", "amount:Decimal(38, 8)", "label:String"}
}

type testEventRow struct {
	EventTS time.Time       `ch:"event_ts"`
	Height  uint64          `ch:"height"`
	Amount  decimal.Decimal `ch:"amount"`
	Label   string          `ch:"label"`
	Ignored string
}

type badSchema struct{}

func (s *badSchema) Name() string      { return "bad" }
func (s *badSchema) Columns() []string { return []string{"no_type"} }

func createTestTable(t *testing.T, conn clickhouse.Connection, ds *FactDataset) {
	t.Helper()
	err := conn.Exec(t.Context(), fmt.Sprintf(`CREATE TABLE %s (
		event_ts DateTime64(3, 'UTC'),
		height UInt64,
		amount Decimal(38, 8),
		label String
	) ENGINE = MergeTree ORDER BY height`, ds.TableName()))
	require.NoError(t, err)
}

func TestTBW_Clickhouse_Dataset_NewFactDataset(t *testing.T) {
	t.Parallel()
	log := truebwtesting.NewLogger()

	t.Run("returns error when logger is missing", func(t *testing.T) {
		t.Parallel()
		ds, err := NewFactDataset(nil, &testEventSchema{})
		require.Error(t, err)
		require.Nil(t, ds)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("rejects malformed column definitions", func(t *testing.T) {
		t.Parallel()
		ds, err := NewFactDataset(log, &badSchema{})
		require.Error(t, err)
		require.Nil(t, ds)
		require.Contains(t, err.Error(), "expected format 'name:type'")
	})

	t.Run("derives table name and columns", func(t *testing.T) {
		t.Parallel()
		ds, err := NewFactDataset(log, &testEventSchema{})
		require.NoError(t, err)
		require.Equal(t, "fact_test_events", ds.TableName())
		require.Equal(t, []string{"event_ts", "height", "amount", "label"}, ds.Columns())
	})

	t.Run("typed dataset requires every column to be mapped", func(t *testing.T) {
		t.Parallel()
		ds, err := NewFactDataset(log, &testEventSchema{})
		require.NoError(t, err)

		type partial struct {
			Height uint64 `ch:"height"`
		}
		_, err = NewTypedFactDataset[partial](ds)
		require.Error(t, err)
		require.Contains(t, err.Error(), "column event_ts")

		typed, err := NewTypedFactDataset[testEventRow](ds)
		require.NoError(t, err)
		require.Equal(t, []int{0, 1, 2, 3}, typed.fields)
	})
}

func TestTBW_Clickhouse_Dataset_WriteBatch(t *testing.T) {
	t.Parallel()
	log := truebwtesting.NewLogger()
	conn := testConn(t)
	ctx := clickhouse.ContextWithSyncInsert(t.Context())

	ds, err := NewFactDataset(log, &testEventSchema{})
	require.NoError(t, err)
	createTestTable(t, conn, ds)

	t.Run("empty batch is a no-op", func(t *testing.T) {
		require.NoError(t, ds.WriteBatch(ctx, conn, 0, nil))
	})

	t.Run("rejects rows with the wrong column count", func(t *testing.T) {
		err := ds.WriteBatch(ctx, conn, 1, func(int) ([]any, error) {
			return []any{time.Now().UTC(), uint64(1)}, nil
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "expected exactly 4")
	})

	t.Run("propagates row errors", func(t *testing.T) {
		boom := errors.New("boom")
		err := ds.WriteBatch(ctx, conn, 1, func(int) ([]any, error) { return nil, boom })
		require.ErrorIs(t, err, boom)
	})

	t.Run("writes typed rows", func(t *testing.T) {
		typed, err := NewTypedFactDataset[testEventRow](ds)
		require.NoError(t, err)

		ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		rows := make([]testEventRow, 5)
		for i := range rows {
			rows[i] = testEventRow{
				EventTS: ts.Add(time.Duration(i) * time.Minute),
				Height:  uint64(100 + i),
				Amount:  decimal.RequireFromString("0.12345678"),
				Label:   fmt.Sprintf("row%d", i),
			}
		}
		require.NoError(t, typed.WriteBatch(ctx, conn, rows))

		n, err := ds.CountRows(ctx, conn, "")
		require.NoError(t, err)
		require.Equal(t, uint64(5), n)

		n, err = ds.CountRows(ctx, conn, "height >= ?", uint64(103))
		require.NoError(t, err)
		require.Equal(t, uint64(2), n)

		var amount decimal.Decimal
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT amount FROM "+ds.TableName()+" WHERE height = ?", uint64(100)).Scan(&amount))
		require.True(t, decimal.RequireFromString("0.12345678").Equal(amount))
	})
}
