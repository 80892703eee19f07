package forger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/truebw/rewards/pkg/audit"
	"github.com/malbeclabs/truebw/rewards/pkg/ledger"
	"github.com/malbeclabs/truebw/rewards/pkg/metrics"
	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

// HostChain is the read-only view of the host chain used to process a block.
type HostChain interface {
	ListVotersFor(ctx context.Context, validatorPK string) ([]tbw.Wallet, error)
	Validator(ctx context.Context, validatorPK string) (*tbw.Wallet, error)
	MostRecentVote(ctx context.Context, walletPK string) (tbw.VoteEvent, bool, error)
}

// Ledger credits voter rewards.
type Ledger interface {
	ApplyBatch(ctx context.Context, height uint64, rewards []tbw.VoterReward) (*ledger.ApplyResult, error)
}

// Auditor records the reward record and forge stats of a block.
type Auditor interface {
	RecordBlock(ctx context.Context, batch *tbw.RewardBatch) (*audit.RecordResult, error)
}

// Clock is the time reference used to age votes.
type Clock interface {
	Now() time.Time
}

type ProcessorConfig struct {
	Logger    *slog.Logger
	Options   tbw.Options
	HostChain HostChain
	Ledger    Ledger
	Auditor   Auditor
	Clock     Clock

	// VoteLookupConcurrency bounds the concurrent vote history requests per block.
	VoteLookupConcurrency int
}

func (cfg *ProcessorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.HostChain == nil {
		return errors.New("host chain client is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Auditor == nil {
		return errors.New("auditor is required")
	}
	if cfg.Clock == nil {
		return errors.New("clock is required")
	}
	if cfg.VoteLookupConcurrency <= 0 {
		cfg.VoteLookupConcurrency = 8
	}
	if err := cfg.Options.Validate(); err != nil {
		return err
	}
	return nil
}

// Result is the outcome of processing one forged block.
type Result struct {
	Height uint64
	Batch  *tbw.RewardBatch
	// Ledger is nil when the height had already been applied to the ledger.
	Ledger *ledger.ApplyResult
	Audit  *audit.RecordResult
}

// Status summarizes the result for metrics and logs.
func (r *Result) Status() string {
	switch {
	case r.Ledger == nil:
		return "duplicate"
	case r.Batch.Stats.NoVotingPower:
		return "no_voting_power"
	default:
		return "success"
	}
}

// Processor apportions and persists the rewards of forged blocks.
type Processor struct {
	log *slog.Logger
	cfg ProcessorConfig
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Process runs the full reward pipeline for one forged block: snapshot the voters, look up
// their last votes, apportion the income, credit the ledger and record the audit trail.
//
// A height that was already applied to the ledger is not credited again; its audit record is
// still attempted, which the recorder treats as a duplicate. Failures are returned as
// *ProcessError.
func (p *Processor) Process(ctx context.Context, block tbw.Block) (*Result, error) {
	start := time.Now()
	res, err := p.process(ctx, block)
	if err != nil {
		var pe *ProcessError
		if errors.As(err, &pe) {
			metrics.BlockStageErrorsTotal.WithLabelValues(string(pe.Stage)).Inc()
		}
		metrics.RecordBlockProcessed("error", time.Since(start))
		return nil, err
	}
	metrics.RecordBlockProcessed(res.Status(), time.Since(start))
	metrics.LastProcessedHeight.Set(float64(block.Height))
	return res, nil
}

func (p *Processor) process(ctx context.Context, block tbw.Block) (*Result, error) {
	opts := p.cfg.Options
	fail := func(stage Stage, err error) error {
		return &ProcessError{Height: block.Height, Stage: stage, Err: err}
	}

	voters, err := p.cfg.HostChain.ListVotersFor(ctx, opts.ValidatorPublicKey)
	if err != nil {
		return nil, fail(StageVoters, err)
	}
	validator, err := p.cfg.HostChain.Validator(ctx, opts.ValidatorPublicKey)
	if err != nil {
		return nil, fail(StageValidator, err)
	}
	if validator.Validator == nil {
		return nil, fail(StageValidator, fmt.Errorf("wallet %s is not a registered validator", opts.ValidatorPublicKey))
	}
	votes, err := p.lookupVotes(ctx, voters)
	if err != nil {
		return nil, fail(StageVotes, err)
	}

	batch, err := tbw.Apportion(tbw.Input{
		Block:            block,
		Options:          opts,
		Voters:           voters,
		Votes:            votes,
		TotalVotingPower: validator.Validator.VoteBalance,
		Now:              p.cfg.Clock.Now(),
	})
	if err != nil {
		return nil, fail(StageApportion, err)
	}
	p.logBatch(batch)

	res := &Result{Height: block.Height, Batch: batch}

	res.Ledger, err = p.cfg.Ledger.ApplyBatch(ctx, block.Height, batch.PerVoter)
	switch {
	case errors.Is(err, ledger.ErrBlockAlreadyApplied):
		p.log.Warn("forger: block already applied to ledger, skipping credit", "height", block.Height)
	case err != nil:
		return nil, fail(StageLedger, err)
	default:
		metrics.VotersPaidTotal.Add(float64(len(batch.PerVoter)))
		metrics.NewVotersTotal.Add(float64(res.Ledger.NewVoters))
	}

	res.Audit, err = p.cfg.Auditor.RecordBlock(ctx, batch)
	if err != nil {
		return nil, fail(StageAudit, err)
	}

	p.log.Info("forger: processed block", "height", block.Height, "status", res.Status(),
		"voters_paid", len(batch.PerVoter), "payout", batch.TotalVotersPayout.String())
	return res, nil
}

// lookupVotes fetches the most recent vote of every non-blacklisted voter concurrently.
// Wallets without a vote are left out; Apportion reports them.
func (p *Processor) lookupVotes(ctx context.Context, voters []tbw.Wallet) (tbw.VoteMap, error) {
	var (
		mu    sync.Mutex
		votes = make(tbw.VoteMap, len(voters))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.VoteLookupConcurrency)
	for _, w := range voters {
		if p.cfg.Options.Blacklisted(w.Address) {
			continue
		}
		g.Go(func() error {
			vote, ok, err := p.cfg.HostChain.MostRecentVote(gctx, w.PublicKey)
			if err != nil {
				return fmt.Errorf("failed to get last vote of %s: %w", w.Address, err)
			}
			if !ok {
				return nil
			}
			mu.Lock()
			votes[w.PublicKey] = vote
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return votes, nil
}

func (p *Processor) logBatch(b *tbw.RewardBatch) {
	p.log.Info("forger: calculating rewards", "height", b.Height, "voters", b.Stats.VoterCount,
		"blacklisted", b.Stats.BlacklistedVoterCount)
	p.log.Info("forger: license fee", "height", b.Height, "amount", b.LicenseFee.String())
	p.log.Info("forger: rewards after fee", "height", b.Height, "amount", b.TotalIncome.Sub(b.LicenseFee).String())
	p.log.Info("forger: rewards to distribute between voters", "height", b.Height, "amount", b.VotersPool.String())
	p.log.Info("forger: validator fee", "height", b.Height, "amount", b.ValidatorFee.String())
	p.log.Info("forger: total vote power", "height", b.Height, "power", b.Stats.TotalVotingPower.String())
	p.log.Info("forger: total power without blacklist", "height", b.Height, "power", b.Stats.EffectiveVotingPower.String())

	if b.Stats.NoVotingPower {
		p.log.Warn("forger: no voting power, voters pool left unallocated", "height", b.Height,
			"unallocated", b.Unallocated.String(), "error", b.Err())
		return
	}
	for _, v := range b.PerVoter {
		p.log.Debug("forger: voter reward", "height", b.Height, "wallet", v.Wallet,
			"reward", v.Reward.String(), "share", v.Share.String(), "power", v.Power.String())
	}
}
