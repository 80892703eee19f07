package dataset

import (
	"context"
	"fmt"

	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
)

// WriteBatch writes a batch of fact rows to ClickHouse using PrepareBatch.
// writeRowFn must return values in the order of the schema's columns.
func (f *FactDataset) WriteBatch(
	ctx context.Context,
	conn clickhouse.Connection,
	count int,
	writeRowFn func(int) ([]any, error),
) error {
	if count == 0 {
		return nil
	}

	f.log.Debug("dataset: writing fact batch", "table", f.TableName(), "count", count)

	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", f.TableName()))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close() // Always release the connection back to the pool

	for i := range count {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during batch insert: %w", ctx.Err())
		default:
		}

		row, err := writeRowFn(i)
		if err != nil {
			return fmt.Errorf("failed to get row data %d: %w", i, err)
		}
		if len(row) != len(f.cols) {
			return fmt.Errorf("row %d has %d columns, expected exactly %d", i, len(row), len(f.cols))
		}
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	f.log.Debug("dataset: wrote fact batch", "table", f.TableName(), "count", count)
	return nil
}

// CountRows returns the number of rows in the fact table matching where, or all rows when
// where is empty.
func (f *FactDataset) CountRows(ctx context.Context, conn clickhouse.Connection, where string, args ...any) (uint64, error) {
	query := fmt.Sprintf("SELECT count() FROM %s", f.TableName())
	if where != "" {
		query += " WHERE " + where
	}
	var n uint64
	if err := conn.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", f.TableName(), err)
	}
	return n, nil
}
