package audit

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

var (
	// ErrDuplicateRecord is returned when a reward record already exists for a height.
	ErrDuplicateRecord = errors.New("block reward record already exists")

	// ErrRecordNotFound is returned when no reward record exists for a height.
	ErrRecordNotFound = errors.New("block reward record not found")
)

// Record is the append-only reward record of one forged block.
type Record struct {
	Height       uint64            `json:"height"`
	TotalIncome  decimal.Decimal   `json:"total_income"`
	LicenseFee   decimal.Decimal   `json:"license_fee"`
	ValidatorFee decimal.Decimal   `json:"validator_fee"`
	VotersPool   decimal.Decimal   `json:"voters_pool"`
	TotalPayout  decimal.Decimal   `json:"total_payout"`
	Unallocated  decimal.Decimal   `json:"unallocated"`
	PerVoter     []tbw.VoterReward `json:"per_voter"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ForgeStats is the per-height summary written for analytics. TotalVotingPower excludes the
// blacklisted voters' power.
type ForgeStats struct {
	At                     time.Time
	Height                 uint64
	ValidatorPublicKey     string
	VoterCount             int
	BlacklistedVoterCount  int
	TotalPayout            decimal.Decimal
	Unallocated            decimal.Decimal
	LicenseFee             decimal.Decimal
	ValidatorFee           decimal.Decimal
	BlockReward            decimal.Decimal
	TotalVotingPower       decimal.Decimal
	BlacklistedVotingPower decimal.Decimal
	NoVotingPower          bool
}

// RecordStore persists reward records. InsertRecord returns ErrDuplicateRecord when the
// height is already recorded and must not modify the existing record.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec Record) error
	GetRecord(ctx context.Context, height uint64) (*Record, error)
}

// StatsStore persists forge stats and per-voter reward facts. It has no duplicate guard.
type StatsStore interface {
	InsertForgeStats(ctx context.Context, stats ForgeStats, perVoter []tbw.VoterReward) error
}

// NewRecord builds the reward record of a batch.
func NewRecord(batch *tbw.RewardBatch, at time.Time) Record {
	return Record{
		Height:       batch.Height,
		TotalIncome:  batch.TotalIncome,
		LicenseFee:   batch.LicenseFee,
		ValidatorFee: batch.ValidatorFee,
		VotersPool:   batch.VotersPool,
		TotalPayout:  batch.TotalVotersPayout,
		Unallocated:  batch.Unallocated,
		PerVoter:     batch.PerVoter,
		CreatedAt:    at,
	}
}

// NewForgeStats builds the forge stats of a batch. The block reward is the block's total income.
func NewForgeStats(batch *tbw.RewardBatch, validatorPK string, at time.Time) ForgeStats {
	return ForgeStats{
		At:                     at,
		Height:                 batch.Height,
		ValidatorPublicKey:     validatorPK,
		VoterCount:             batch.Stats.VoterCount,
		BlacklistedVoterCount:  batch.Stats.BlacklistedVoterCount,
		TotalPayout:            batch.TotalVotersPayout,
		Unallocated:            batch.Unallocated,
		LicenseFee:             batch.LicenseFee,
		ValidatorFee:           batch.ValidatorFee,
		BlockReward:            batch.TotalIncome,
		TotalVotingPower:       batch.Stats.EffectiveVotingPower,
		BlacklistedVotingPower: batch.Stats.BlacklistedPower,
		NoVotingPower:          batch.Stats.NoVotingPower,
	}
}
