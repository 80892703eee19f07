package forger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malbeclabs/truebw/rewards/pkg/audit"
	"github.com/malbeclabs/truebw/rewards/pkg/ledger"
	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

const testValidatorPK = "02abababababababababababababababababababababababababababababababab"

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type fakeHostChain struct {
	mu          sync.Mutex
	voters      []tbw.Wallet
	voteBalance decimal.Decimal
	votes       map[string]tbw.VoteEvent
	voteErr     error
	lookups     []string
}

func newFakeHostChain(voteBalance string, voters ...tbw.Wallet) *fakeHostChain {
	f := &fakeHostChain{voters: voters, voteBalance: dec(voteBalance), votes: map[string]tbw.VoteEvent{}}
	for _, w := range voters {
		f.votes[w.PublicKey] = tbw.VoteEvent{WalletPublicKey: w.PublicKey, Timestamp: testNow.AddDate(0, -1, 0)}
	}
	return f
}

func (f *fakeHostChain) ListVotersFor(_ context.Context, validatorPK string) ([]tbw.Wallet, error) {
	if validatorPK != testValidatorPK {
		return nil, errors.New("unexpected validator")
	}
	return f.voters, nil
}

func (f *fakeHostChain) Validator(_ context.Context, validatorPK string) (*tbw.Wallet, error) {
	return &tbw.Wallet{
		Address:   "AValidator",
		PublicKey: validatorPK,
		Validator: &tbw.ValidatorAttributes{VoteBalance: f.voteBalance},
	}, nil
}

func (f *fakeHostChain) MostRecentVote(_ context.Context, walletPK string) (tbw.VoteEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, walletPK)
	if f.voteErr != nil {
		return tbw.VoteEvent{}, false, f.voteErr
	}
	ev, ok := f.votes[walletPK]
	return ev, ok, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	applied map[uint64][]tbw.VoterReward
	err     error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{applied: map[uint64][]tbw.VoterReward{}}
}

func (f *fakeLedger) ApplyBatch(_ context.Context, height uint64, rewards []tbw.VoterReward) (*ledger.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.applied[height]; ok {
		return nil, ledger.ErrBlockAlreadyApplied
	}
	f.applied[height] = rewards
	return &ledger.ApplyResult{Height: height, NewVoters: len(rewards), VoterCount: int64(len(rewards))}, nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	batches []*tbw.RewardBatch
	err     error
}

func (f *fakeAuditor) RecordBlock(_ context.Context, batch *tbw.RewardBatch) (*audit.RecordResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, batch)
	return &audit.RecordResult{Height: batch.Height, Recorded: true}, nil
}

func voter(addr, pk, balance string) tbw.Wallet {
	return tbw.Wallet{Address: addr, PublicKey: pk, Balance: dec(balance), VoteTarget: testValidatorPK}
}
