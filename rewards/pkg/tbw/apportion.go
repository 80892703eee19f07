package tbw

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidBlock is returned for blocks with negative income components.
var ErrInvalidBlock = errors.New("invalid block")

// VoteLookup resolves the most recent vote event of a wallet by public key.
type VoteLookup interface {
	LastVote(publicKey string) (VoteEvent, bool)
}

// VoteMap is a VoteLookup backed by a map keyed by wallet public key.
type VoteMap map[string]VoteEvent

func (m VoteMap) LastVote(publicKey string) (VoteEvent, bool) {
	ev, ok := m[publicKey]
	return ev, ok
}

// Input is everything Apportion needs to split one block.
type Input struct {
	Block   Block
	Options Options
	// Voters is the snapshot of wallets currently voting for the validator, blacklisted ones included.
	Voters []Wallet
	Votes  VoteLookup
	// TotalVotingPower is the validator's aggregate vote balance tracked by the host chain. It may
	// include voters that are not part of the snapshot.
	TotalVotingPower decimal.Decimal
	// Now is the reference time used to age votes.
	Now time.Time
}

// Apportion splits the block income into license fee, validator fee and per-voter rewards.
//
// It has no side effects. A batch with Stats.NoVotingPower set is returned, not an error, when
// there is no effective voting power; the voters pool is then reported as Unallocated.
func Apportion(in Input) (*RewardBatch, error) {
	opts := in.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if in.Block.TotalFee.IsNegative() || in.Block.Reward.IsNegative() {
		return nil, fmt.Errorf("%w: negative income at height %d", ErrInvalidBlock, in.Block.Height)
	}

	blacklist := opts.blacklistSet()
	active := make([]Wallet, 0, len(in.Voters))
	blacklistedPower := decimal.Zero
	blacklistedCount := 0
	activePower := decimal.Zero
	for _, w := range in.Voters {
		if _, ok := blacklist[w.Address]; ok {
			blacklistedPower = blacklistedPower.Add(Power(w))
			blacklistedCount++
			continue
		}
		active = append(active, w)
		activePower = activePower.Add(Power(w))
	}

	effectivePower := in.TotalVotingPower.Sub(blacklistedPower)

	income := in.Block.Income()
	licenseFee := income.Mul(opts.LicenseFeeCut.Decimal).Round(Precision)
	distributable := income.Sub(licenseFee)
	votersPool := distributable.Mul(opts.SharePercentage).DivRound(hundred, divisionPrecision).Round(Precision)
	// Derived by subtraction so that validator fee and voters pool always sum to distributable.
	validatorFee := distributable.Sub(votersPool)

	batch := &RewardBatch{
		Height:       in.Block.Height,
		TotalIncome:  income,
		LicenseFee:   licenseFee,
		ValidatorFee: validatorFee,
		VotersPool:   votersPool,
		PerVoter:     []VoterReward{},
		Stats: Stats{
			VoterCount:            len(in.Voters),
			BlacklistedVoterCount: blacklistedCount,
			TotalVotingPower:      in.TotalVotingPower,
			BlacklistedPower:      blacklistedPower,
			EffectiveVotingPower:  effectivePower,
			ActivePower:           activePower,
		},
	}

	if !effectivePower.IsPositive() {
		batch.Stats.NoVotingPower = true
		batch.TotalVotersPayout = decimal.Zero
		batch.Unallocated = votersPool
		return batch, nil
	}

	// A stale aggregate can be smaller than the snapshot itself; never hand out more than the pool.
	denominator := effectivePower
	if activePower.GreaterThan(denominator) {
		denominator = activePower
	}

	totalPayout := decimal.Zero
	for _, w := range active {
		power := Power(w)
		share := power.DivRound(denominator, divisionPrecision)

		vote, ok := lookupVote(in.Votes, w.PublicKey)
		if !ok {
			return nil, &MissingVoteHistoryError{Wallet: w.Address}
		}
		if opts.MaturityEnabled() {
			factor := DiscountFactor(vote.Timestamp, in.Now, opts.VoteMaturityThresholdDays, opts.VoteMaturityStages)
			share = share.Mul(factor)
		}

		reward := share.Mul(votersPool).Truncate(Precision)
		totalPayout = totalPayout.Add(reward)

		batch.PerVoter = append(batch.PerVoter, VoterReward{
			Wallet: w.Address,
			Share:  share.Truncate(Precision),
			Power:  power,
			Reward: reward,
		})
	}

	batch.TotalVotersPayout = totalPayout
	batch.Unallocated = votersPool.Sub(totalPayout)
	return batch, nil
}

func lookupVote(votes VoteLookup, publicKey string) (VoteEvent, bool) {
	if votes == nil {
		return VoteEvent{}, false
	}
	return votes.LastVote(publicKey)
}
