package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

var voterColumns = []string{"height", "position", "wallet", "share", "power", "reward"}

// PostgresStore keeps reward records in the block_rewards and block_reward_voters tables.
type PostgresStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool) (*PostgresStore, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if pool == nil {
		return nil, errors.New("postgres pool is required")
	}
	return &PostgresStore{log: log, pool: pool}, nil
}

// InsertRecord writes the record header and its voter rows in one transaction.
func (s *PostgresStore) InsertRecord(ctx context.Context, rec Record) error {
	s.log.Debug("audit/postgres: inserting record", "height", rec.Height, "voters", len(rec.PerVoter))

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO block_rewards
			   (height, total_income, license_fee, validator_fee, voters_pool, total_payout, unallocated, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (height) DO NOTHING`,
			int64(rec.Height), numeric(rec.TotalIncome), numeric(rec.LicenseFee), numeric(rec.ValidatorFee),
			numeric(rec.VotersPool), numeric(rec.TotalPayout), numeric(rec.Unallocated), rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert block reward: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDuplicateRecord
		}

		if len(rec.PerVoter) == 0 {
			return nil
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"block_reward_voters"}, voterColumns,
			pgx.CopyFromSlice(len(rec.PerVoter), func(i int) ([]any, error) {
				v := rec.PerVoter[i]
				return []any{
					int64(rec.Height), int32(i), v.Wallet,
					numeric(v.Share), numeric(v.Power), numeric(v.Reward),
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy block reward voters: %w", err)
		}
		return nil
	})
}

// GetRecord returns the record of a height with its voters in apportionment order.
func (s *PostgresStore) GetRecord(ctx context.Context, height uint64) (*Record, error) {
	var (
		rec = Record{Height: height}
		raw [6]string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT total_income::text, license_fee::text, validator_fee::text, voters_pool::text,
		        total_payout::text, unallocated::text, created_at
		 FROM block_rewards WHERE height = $1`,
		int64(height),
	).Scan(&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5], &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block reward %d: %w", height, err)
	}
	for i, dst := range []*decimal.Decimal{
		&rec.TotalIncome, &rec.LicenseFee, &rec.ValidatorFee, &rec.VotersPool, &rec.TotalPayout, &rec.Unallocated,
	} {
		if *dst, err = decimal.NewFromString(raw[i]); err != nil {
			return nil, fmt.Errorf("failed to parse block reward amount: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT wallet, share::text, power::text, reward::text
		 FROM block_reward_voters WHERE height = $1 ORDER BY position`,
		int64(height),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query block reward voters: %w", err)
	}
	defer rows.Close()

	rec.PerVoter = []tbw.VoterReward{}
	for rows.Next() {
		var (
			v                    tbw.VoterReward
			share, power, reward string
		)
		if err := rows.Scan(&v.Wallet, &share, &power, &reward); err != nil {
			return nil, fmt.Errorf("failed to scan block reward voter: %w", err)
		}
		if v.Share, err = decimal.NewFromString(share); err != nil {
			return nil, fmt.Errorf("failed to parse share: %w", err)
		}
		if v.Power, err = decimal.NewFromString(power); err != nil {
			return nil, fmt.Errorf("failed to parse power: %w", err)
		}
		if v.Reward, err = decimal.NewFromString(reward); err != nil {
			return nil, fmt.Errorf("failed to parse reward: %w", err)
		}
		rec.PerVoter = append(rec.PerVoter, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating block reward voters: %w", err)
	}
	return &rec, nil
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
