package tbw

import (
	"time"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits carried by every persisted amount.
const Precision = 8

// divisionPrecision is the number of digits kept by intermediate divisions.
const divisionPrecision = 32

// Block is the forged block whose income is being apportioned.
type Block struct {
	Height   uint64
	TotalFee decimal.Decimal
	Reward   decimal.Decimal
}

// Income returns the total block income (fees plus reward).
func (b Block) Income() decimal.Decimal {
	return b.TotalFee.Add(b.Reward)
}

// ValidatorAttributes holds the registration data of a validator wallet.
type ValidatorAttributes struct {
	// VoteBalance is the aggregate voting power tracked by the host chain for the validator.
	VoteBalance decimal.Decimal
}

// Wallet is a read-only snapshot of a host chain wallet.
type Wallet struct {
	Address   string
	PublicKey string
	Balance   decimal.Decimal

	// StakePower is the optional supplemental stake. Valid=false means the wallet has none.
	StakePower decimal.NullDecimal

	// VoteTarget is the public key of the validator the wallet votes for, empty if not voting.
	VoteTarget string

	// Validator is set only for registered validator wallets.
	Validator *ValidatorAttributes
}

// VoteEvent is the most recent vote transaction sent by a wallet.
type VoteEvent struct {
	WalletPublicKey string
	Timestamp       time.Time
}

// VoterReward is the reward computed for a single voter on a single block.
type VoterReward struct {
	Wallet string          `json:"wallet"`
	Share  decimal.Decimal `json:"share"`
	Power  decimal.Decimal `json:"power"`
	Reward decimal.Decimal `json:"reward"`
}

// Stats summarizes the voter set that produced a batch.
type Stats struct {
	VoterCount            int
	BlacklistedVoterCount int

	// TotalVotingPower is the validator's aggregate vote balance as reported by the host chain.
	TotalVotingPower     decimal.Decimal
	BlacklistedPower     decimal.Decimal
	EffectiveVotingPower decimal.Decimal
	// ActivePower is the sum of the non-blacklisted snapshot voters' power.
	ActivePower decimal.Decimal

	// NoVotingPower is set when there was no effective voting power to divide by.
	NoVotingPower bool
}

// RewardBatch is the full apportionment of one block.
type RewardBatch struct {
	Height      uint64
	TotalIncome decimal.Decimal

	LicenseFee        decimal.Decimal
	ValidatorFee      decimal.Decimal
	VotersPool        decimal.Decimal
	TotalVotersPayout decimal.Decimal
	// Unallocated is the part of VotersPool that was not paid to any voter.
	Unallocated decimal.Decimal

	PerVoter []VoterReward
	Stats    Stats
}

// Err reports ErrNoVotingPower for degenerate batches and nil otherwise.
func (b *RewardBatch) Err() error {
	if b.Stats.NoVotingPower {
		return ErrNoVotingPower
	}
	return nil
}
