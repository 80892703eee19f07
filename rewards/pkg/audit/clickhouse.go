package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse/dataset"
	"github.com/malbeclabs/truebw/rewards/pkg/tbw"
)

type forgeStatsSchema struct{}

func (s *forgeStatsSchema) Name() string { return "tbw_forge_stats" }

func (s *forgeStatsSchema) Columns() []string {
	return []string{
		"event_ts:DateTime64(3)",
		"ingested_at:DateTime64(3)",
		"height:UInt64",
		"validator_pk:String",
		"voter_count:UInt32",
		"blacklisted_voter_count:UInt32",
		"total_payout:Decimal(38,8)",
		"unallocated:Decimal(38,8)",
		"license_fee:Decimal(38,8)",
		"validator_fee:Decimal(38,8)",
		"block_reward:Decimal(38,8)",
		"total_voting_power:Decimal(38,8)",
		"blacklisted_voting_power:Decimal(38,8)",
		"no_voting_power:Bool",
	}
}

type forgeStatsRow struct {
	EventTS                time.Time       `ch:"event_ts"`
	IngestedAt             time.Time       `ch:"ingested_at"`
	Height                 uint64          `ch:"height"`
	ValidatorPK            string          `ch:"validator_pk"`
	VoterCount             uint32          `ch:"voter_count"`
	BlacklistedVoterCount  uint32          `ch:"blacklisted_voter_count"`
	TotalPayout            decimal.Decimal `ch:"total_payout"`
	Unallocated            decimal.Decimal `ch:"unallocated"`
	LicenseFee             decimal.Decimal `ch:"license_fee"`
	ValidatorFee           decimal.Decimal `ch:"validator_fee"`
	BlockReward            decimal.Decimal `ch:"block_reward"`
	TotalVotingPower       decimal.Decimal `ch:"total_voting_power"`
	BlacklistedVotingPower decimal.Decimal `ch:"blacklisted_voting_power"`
	NoVotingPower          bool            `ch:"no_voting_power"`
}

type voterRewardsSchema struct{}

func (s *voterRewardsSchema) Name() string { return "tbw_voter_rewards" }

func (s *voterRewardsSchema) Columns() []string {
	return []string{
		"event_ts:DateTime64(3)",
		"ingested_at:DateTime64(3)",
		"height:UInt64",
		"wallet:String",
		"share:Decimal(38,8)",
		"power:Decimal(38,8)",
		"reward:Decimal(38,8)",
	}
}

type voterRewardRow struct {
	EventTS    time.Time       `ch:"event_ts"`
	IngestedAt time.Time       `ch:"ingested_at"`
	Height     uint64          `ch:"height"`
	Wallet     string          `ch:"wallet"`
	Share      decimal.Decimal `ch:"share"`
	Power      decimal.Decimal `ch:"power"`
	Reward     decimal.Decimal `ch:"reward"`
}

// ClickHouseStatsStore appends forge stats and voter reward facts to ClickHouse.
type ClickHouseStatsStore struct {
	log          *slog.Logger
	client       clickhouse.Client
	forgeStats   *dataset.TypedFactDataset[forgeStatsRow]
	voterRewards *dataset.TypedFactDataset[voterRewardRow]
}

func NewClickHouseStatsStore(log *slog.Logger, client clickhouse.Client) (*ClickHouseStatsStore, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if client == nil {
		return nil, errors.New("clickhouse client is required")
	}

	statsDS, err := dataset.NewFactDataset(log, &forgeStatsSchema{})
	if err != nil {
		return nil, fmt.Errorf("failed to create forge stats dataset: %w", err)
	}
	forgeStats, err := dataset.NewTypedFactDataset[forgeStatsRow](statsDS)
	if err != nil {
		return nil, err
	}
	rewardsDS, err := dataset.NewFactDataset(log, &voterRewardsSchema{})
	if err != nil {
		return nil, fmt.Errorf("failed to create voter rewards dataset: %w", err)
	}
	voterRewards, err := dataset.NewTypedFactDataset[voterRewardRow](rewardsDS)
	if err != nil {
		return nil, err
	}

	return &ClickHouseStatsStore{
		log:          log,
		client:       client,
		forgeStats:   forgeStats,
		voterRewards: voterRewards,
	}, nil
}

func (s *ClickHouseStatsStore) InsertForgeStats(ctx context.Context, stats ForgeStats, perVoter []tbw.VoterReward) error {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	ingestedAt := time.Now().UTC()
	err = s.forgeStats.WriteBatch(ctx, conn, []forgeStatsRow{{
		EventTS:                stats.At,
		IngestedAt:             ingestedAt,
		Height:                 stats.Height,
		ValidatorPK:            stats.ValidatorPublicKey,
		VoterCount:             uint32(stats.VoterCount),
		BlacklistedVoterCount:  uint32(stats.BlacklistedVoterCount),
		TotalPayout:            stats.TotalPayout,
		Unallocated:            stats.Unallocated,
		LicenseFee:             stats.LicenseFee,
		ValidatorFee:           stats.ValidatorFee,
		BlockReward:            stats.BlockReward,
		TotalVotingPower:       stats.TotalVotingPower,
		BlacklistedVotingPower: stats.BlacklistedVotingPower,
		NoVotingPower:          stats.NoVotingPower,
	}})
	if err != nil {
		return fmt.Errorf("failed to write forge stats: %w", err)
	}

	rows := make([]voterRewardRow, len(perVoter))
	for i, v := range perVoter {
		rows[i] = voterRewardRow{
			EventTS:    stats.At,
			IngestedAt: ingestedAt,
			Height:     stats.Height,
			Wallet:     v.Wallet,
			Share:      v.Share,
			Power:      v.Power,
			Reward:     v.Reward,
		}
	}
	if err := s.voterRewards.WriteBatch(ctx, conn, rows); err != nil {
		return fmt.Errorf("failed to write voter rewards: %w", err)
	}

	s.log.Debug("audit/clickhouse: wrote forge stats", "height", stats.Height, "voters", len(perVoter))
	return nil
}
