package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

const (
	voterCountID = "count"

	// applyLockKey is the transaction-scoped advisory lock serializing ledger application.
	applyLockKey int64 = 0x7462775f6c6564
)

var (
	// ErrBlockAlreadyApplied is returned when a height has already been applied to the ledger.
	ErrBlockAlreadyApplied = errors.New("block already applied to ledger")

	// ErrVoterNotFound is returned when no ledger entry exists for a wallet.
	ErrVoterNotFound = errors.New("voter not found")
)

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Voter is a persisted voter ledger entry.
type Voter struct {
	Wallet         string          `json:"wallet"`
	PaidBalance    decimal.Decimal `json:"paid_balance"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ApplyResult describes the effect of one ApplyBatch call.
type ApplyResult struct {
	Height     uint64
	NewVoters  int
	Updated    int
	VoterCount int64
}

// Store is the PostgreSQL-backed voter ledger.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// ApplyBatch credits the rewards of one block to the voter ledger.
//
// Existing voters get their pending balance increased, first-time voters get a new entry and
// are added to the voter count. Everything, including the height guard and the counter,
// commits in one transaction. Application is serialized across processes by an advisory lock.
// Applying a height twice returns ErrBlockAlreadyApplied and changes nothing.
func (s *Store) ApplyBatch(ctx context.Context, height uint64, rewards []tbw.VoterReward) (*ApplyResult, error) {
	s.log.Debug("ledger/store: applying batch", "height", height, "count", len(rewards))

	start := time.Now()
	result := &ApplyResult{Height: height}

	err := pgx.BeginFunc(ctx, s.cfg.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, applyLockKey); err != nil {
			return fmt.Errorf("failed to acquire ledger lock: %w", err)
		}

		var applied bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_applied_blocks WHERE height = $1)`, int64(height),
		).Scan(&applied); err != nil {
			return fmt.Errorf("failed to check applied height: %w", err)
		}
		if applied {
			return ErrBlockAlreadyApplied
		}

		pending, err := lockPending(ctx, tx, rewards)
		if err != nil {
			return err
		}

		now := s.cfg.Clock.Now().UTC()
		total := decimal.Zero
		batch := &pgx.Batch{}
		for _, r := range rewards {
			total = total.Add(r.Reward)
			if current, ok := pending[r.Wallet]; ok {
				next := current.Add(r.Reward).Round(tbw.Precision)
				pending[r.Wallet] = next
				batch.Queue(
					`UPDATE voters SET pending_balance = $2::numeric, updated_at = $3 WHERE wallet = $1`,
					r.Wallet, next.String(), now,
				)
				result.Updated++
				continue
			}
			next := r.Reward.Round(tbw.Precision)
			pending[r.Wallet] = next
			batch.Queue(
				`INSERT INTO voters (wallet, paid_balance, pending_balance, created_at, updated_at)
				 VALUES ($1, 0, $2::numeric, $3, $3)`,
				r.Wallet, next.String(), now,
			)
			result.NewVoters++
		}
		batch.Queue(
			`INSERT INTO ledger_applied_blocks (height, voters, new_voters, total_reward, applied_at)
			 VALUES ($1, $2, $3, $4::numeric, $5)`,
			int64(height), len(rewards), result.NewVoters, total.Round(tbw.Precision).String(), now,
		)

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("batch statement %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}

		if err := tx.QueryRow(ctx,
			`INSERT INTO voter_count (id, length) VALUES ($1, $2)
			 ON CONFLICT (id) DO UPDATE SET length = voter_count.length + EXCLUDED.length
			 RETURNING length`,
			voterCountID, result.NewVoters,
		).Scan(&result.VoterCount); err != nil {
			return fmt.Errorf("failed to update voter count: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBlockAlreadyApplied) {
			return nil, fmt.Errorf("height %d: %w", height, err)
		}
		s.log.Debug("ledger/store: rolled back", "height", height, "duration", time.Since(start), "error", err)
		return nil, fmt.Errorf("failed to apply ledger batch for height %d: %w", height, err)
	}

	s.log.Debug("ledger/store: committed", "height", height,
		"new_voters", result.NewVoters, "updated", result.Updated, "voter_count", result.VoterCount,
		"duration", time.Since(start))
	return result, nil
}

// lockPending loads and row-locks the pending balances of the batch's existing voters.
func lockPending(ctx context.Context, tx pgx.Tx, rewards []tbw.VoterReward) (map[string]decimal.Decimal, error) {
	pending := make(map[string]decimal.Decimal, len(rewards))
	if len(rewards) == 0 {
		return pending, nil
	}

	wallets := make([]string, 0, len(rewards))
	seen := make(map[string]struct{}, len(rewards))
	for _, r := range rewards {
		if _, ok := seen[r.Wallet]; ok {
			continue
		}
		seen[r.Wallet] = struct{}{}
		wallets = append(wallets, r.Wallet)
	}

	rows, err := tx.Query(ctx,
		`SELECT wallet, pending_balance::text FROM voters WHERE wallet = ANY($1) ORDER BY wallet FOR UPDATE`,
		wallets,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load voters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var wallet, raw string
		if err := rows.Scan(&wallet, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan voter: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pending balance of %s: %w", wallet, err)
		}
		pending[wallet] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating voters: %w", err)
	}
	return pending, nil
}
