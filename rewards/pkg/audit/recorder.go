package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

type RecorderConfig struct {
	Logger  *slog.Logger
	Records RecordStore
	// Stats is optional; forge stats are skipped when it is nil.
	Stats              StatsStore
	ValidatorPublicKey string
	Clock              clockwork.Clock
}

func (cfg *RecorderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Records == nil {
		return errors.New("record store is required")
	}
	if cfg.ValidatorPublicKey == "" {
		return errors.New("validator public key is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// RecordResult describes the outcome of RecordBlock.
type RecordResult struct {
	Height uint64
	// Recorded is false when a record already existed for the height.
	Recorded     bool
	StatsWritten bool
}

// Recorder writes the audit trail of apportioned blocks.
type Recorder struct {
	log *slog.Logger
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Recorder{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// RecordBlock inserts the reward record of the batch unless one already exists for its height,
// in which case it logs a warning and leaves the existing record untouched. Forge stats are
// written in both cases; per-voter reward facts only accompany a newly inserted record.
func (r *Recorder) RecordBlock(ctx context.Context, batch *tbw.RewardBatch) (*RecordResult, error) {
	now := r.cfg.Clock.Now().UTC()
	result := &RecordResult{Height: batch.Height}

	err := r.cfg.Records.InsertRecord(ctx, NewRecord(batch, now))
	switch {
	case errors.Is(err, ErrDuplicateRecord):
		r.log.Warn("audit: reward record already exists, skipping", "height", batch.Height)
	case err != nil:
		return nil, fmt.Errorf("failed to record block %d: %w", batch.Height, err)
	default:
		result.Recorded = true
	}

	if r.cfg.Stats != nil {
		stats := NewForgeStats(batch, r.cfg.ValidatorPublicKey, now)
		var perVoter []tbw.VoterReward
		if result.Recorded {
			perVoter = batch.PerVoter
		}
		if err := r.cfg.Stats.InsertForgeStats(ctx, stats, perVoter); err != nil {
			return nil, fmt.Errorf("failed to write forge stats for block %d: %w", batch.Height, err)
		}
		result.StatsWritten = true
	}

	r.log.Debug("audit: recorded block", "height", batch.Height,
		"recorded", result.Recorded, "stats_written", result.StatsWritten)
	return result, nil
}

// Record returns the reward record of a height.
func (r *Recorder) Record(ctx context.Context, height uint64) (*Record, error) {
	return r.cfg.Records.GetRecord(ctx, height)
}
