package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const voterColumns = `wallet, paid_balance::text, pending_balance::text, created_at, updated_at`

// GetVoter returns the ledger entry of a wallet, or ErrVoterNotFound.
func (s *Store) GetVoter(ctx context.Context, wallet string) (*Voter, error) {
	row := s.cfg.Pool.QueryRow(ctx, `SELECT `+voterColumns+` FROM voters WHERE wallet = $1`, wallet)
	v, err := scanVoter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoterNotFound
		}
		return nil, fmt.Errorf("failed to get voter %s: %w", wallet, err)
	}
	return v, nil
}

// ListVoters returns a page of ledger entries ordered by pending balance, largest first,
// together with the total number of entries.
func (s *Store) ListVoters(ctx context.Context, limit, offset int) ([]Voter, int, error) {
	var total int
	if err := s.cfg.Pool.QueryRow(ctx, `SELECT count(*) FROM voters`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count voters: %w", err)
	}

	rows, err := s.cfg.Pool.Query(ctx,
		`SELECT `+voterColumns+` FROM voters ORDER BY pending_balance DESC, wallet LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list voters: %w", err)
	}
	defer rows.Close()

	voters := []Voter{}
	for rows.Next() {
		v, err := scanVoter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan voter: %w", err)
		}
		voters = append(voters, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating voters: %w", err)
	}
	return voters, total, nil
}

// VoterCount returns the running voter-count aggregate, zero if it was never written.
func (s *Store) VoterCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.cfg.Pool.QueryRow(ctx, `SELECT length FROM voter_count WHERE id = $1`, voterCountID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get voter count: %w", err)
	}
	return count, nil
}

// LastAppliedHeight returns the highest height applied to the ledger. ok is false when
// nothing has been applied yet.
func (s *Store) LastAppliedHeight(ctx context.Context) (height uint64, ok bool, err error) {
	var h *int64
	if err := s.cfg.Pool.QueryRow(ctx, `SELECT max(height) FROM ledger_applied_blocks`).Scan(&h); err != nil {
		return 0, false, fmt.Errorf("failed to get last applied height: %w", err)
	}
	if h == nil {
		return 0, false, nil
	}
	return uint64(*h), true, nil
}

// ResumeHeight returns the height block processing should continue after. It is the highest
// applied height, unless some applied height has no reward record yet, in which case it is the
// height just below the lowest such one so that its audit is completed. ok is false when nothing
// has been applied yet.
func (s *Store) ResumeHeight(ctx context.Context) (height uint64, ok bool, err error) {
	var last, unrecorded *int64
	if err := s.cfg.Pool.QueryRow(ctx,
		`SELECT
		   (SELECT max(height) FROM ledger_applied_blocks),
		   (SELECT min(a.height) FROM ledger_applied_blocks a
		      LEFT JOIN block_rewards r ON r.height = a.height
		     WHERE r.height IS NULL)`,
	).Scan(&last, &unrecorded); err != nil {
		return 0, false, fmt.Errorf("failed to get resume height: %w", err)
	}
	if last == nil {
		return 0, false, nil
	}
	if unrecorded != nil {
		s.log.Warn("ledger/store: applied block has no reward record", "height", *unrecorded, "last_applied", *last)
		return uint64(*unrecorded - 1), true, nil
	}
	return uint64(*last), true, nil
}

// RecountVoters rewrites the voter-count aggregate from the number of ledger entries.
func (s *Store) RecountVoters(ctx context.Context) (before, after int64, err error) {
	err = pgx.BeginFunc(ctx, s.cfg.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, applyLockKey); err != nil {
			return fmt.Errorf("failed to acquire ledger lock: %w", err)
		}
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE((SELECT length FROM voter_count WHERE id = $1), 0)`, voterCountID,
		).Scan(&before); err != nil {
			return fmt.Errorf("failed to read voter count: %w", err)
		}
		return tx.QueryRow(ctx,
			`INSERT INTO voter_count (id, length) SELECT $1, count(*) FROM voters
			 ON CONFLICT (id) DO UPDATE SET length = EXCLUDED.length
			 RETURNING length`,
			voterCountID,
		).Scan(&after)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to recount voters: %w", err)
	}
	s.log.Info("ledger/store: recounted voters", "before", before, "after", after)
	return before, after, nil
}

func scanVoter(row pgx.Row) (*Voter, error) {
	var (
		v                Voter
		paid, pendingRaw string
	)
	if err := row.Scan(&v.Wallet, &paid, &pendingRaw, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if v.PaidBalance, err = decimal.NewFromString(paid); err != nil {
		return nil, fmt.Errorf("failed to parse paid balance: %w", err)
	}
	if v.PendingBalance, err = decimal.NewFromString(pendingRaw); err != nil {
		return nil, fmt.Errorf("failed to parse pending balance: %w", err)
	}
	return &v, nil
}
