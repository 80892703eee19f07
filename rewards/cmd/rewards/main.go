package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/truebw/rewards/pkg/audit"
	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
	"github.com/malbeclabs/truebw/rewards/pkg/forger"
	"github.com/malbeclabs/truebw/rewards/pkg/hostchain"
	"github.com/malbeclabs/truebw/rewards/pkg/ledger"
	"github.com/malbeclabs/truebw/rewards/pkg/metrics"
	"github.com/malbeclabs/truebw/rewards/pkg/postgres"
	"github.com/malbeclabs/truebw/rewards/pkg/server"
	"github.com/malbeclabs/truebw/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr   = "0.0.0.0:8080"
	defaultPollInterval = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP listen address (or set LISTEN_ADDR env var)")
	migrateFlag := flag.Bool("migrate", false, "run PostgreSQL and ClickHouse migrations before starting")

	// Validator configuration
	validatorPKFlag := flag.String("validator-public-key", "", "validator public key, hex (or set VALIDATOR_PUBLIC_KEY env var)")
	shareFlag := flag.String("share-percentage", "", "percentage (0-100) of the block income shared with voters (or set SHARE_PERCENTAGE env var)")
	blacklistFlag := flag.StringSlice("blacklist", nil, "voter addresses excluded from rewards (or set BLACKLIST env var, comma separated)")
	maturityThresholdFlag := flag.Int("vote-maturity-threshold-days", 0, "vote age in days at which voters get their full share, 0 disables (or set VOTE_MATURITY_THRESHOLD_DAYS env var)")
	maturityStagesFlag := flag.Int("vote-maturity-stages", 1, "per-day increment divisor of the vote maturity ramp (or set VOTE_MATURITY_STAGES env var)")
	licenseFeeCutFlag := flag.String("license-fee-cut", "", "fraction of the block income taken as license fee, default 0.01 (or set LICENSE_FEE_CUT env var)")

	// Block processing
	hostChainURLFlag := flag.String("hostchain-url", "", "host node REST API base URL (or set HOSTCHAIN_URL env var)")
	hostChainRPSFlag := flag.Float64("hostchain-rps", 20, "maximum requests per second to the host node, 0 disables the limit")
	pollIntervalFlag := flag.Duration("poll-interval", defaultPollInterval, "interval between forged block polls")
	startHeightFlag := flag.Uint64("start-height", 0, "process blocks above this height when the ledger is empty (or set START_HEIGHT env var)")
	voteLookupConcurrencyFlag := flag.Int("vote-lookup-concurrency", 8, "maximum concurrent vote history requests per block")

	// PostgreSQL configuration
	postgresHostFlag := flag.String("postgres-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	postgresPortFlag := flag.String("postgres-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	postgresDBFlag := flag.String("postgres-db", "truebw", "PostgreSQL database (or set POSTGRES_DB env var)")
	postgresUserFlag := flag.String("postgres-user", "truebw", "PostgreSQL username (or set POSTGRES_USER env var)")
	postgresPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port), forge stats are skipped when empty (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	overrideString(listenAddrFlag, "LISTEN_ADDR")
	overrideString(validatorPKFlag, "VALIDATOR_PUBLIC_KEY")
	overrideString(shareFlag, "SHARE_PERCENTAGE")
	overrideStringSlice(blacklistFlag, "BLACKLIST")
	overrideString(licenseFeeCutFlag, "LICENSE_FEE_CUT")
	overrideString(hostChainURLFlag, "HOSTCHAIN_URL")
	if err := overrideInt(maturityThresholdFlag, "VOTE_MATURITY_THRESHOLD_DAYS"); err != nil {
		return err
	}
	if err := overrideInt(maturityStagesFlag, "VOTE_MATURITY_STAGES"); err != nil {
		return err
	}
	if err := overrideUint64(startHeightFlag, "START_HEIGHT"); err != nil {
		return err
	}

	opts, err := validatorOptions(validatorInputs{
		PublicKey:             *validatorPKFlag,
		SharePercentage:       *shareFlag,
		Blacklist:             *blacklistFlag,
		MaturityThresholdDays: *maturityThresholdFlag,
		MaturityStages:        *maturityStagesFlag,
		LicenseFeeCut:         *licenseFeeCutFlag,
	})
	if err != nil {
		return err
	}
	if *hostChainURLFlag == "" {
		return errors.New("--hostchain-url is required")
	}

	pgCfg := postgres.ConfigFromEnv(postgres.Config{
		Host:     *postgresHostFlag,
		Port:     *postgresPortFlag,
		Database: *postgresDBFlag,
		Username: *postgresUserFlag,
		Password: *postgresPasswordFlag,
	})
	chCfg := clickhouse.ConfigFromEnv(clickhouse.Config{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	})

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Release:     version,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry error reporting enabled")
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *migrateFlag {
		if err := postgres.Up(ctx, log, pgCfg.ConnString()); err != nil {
			return err
		}
		if chCfg.Addr != "" {
			if err := clickhouse.Up(ctx, log, chCfg); err != nil {
				return err
			}
		}
	}

	pool, err := postgres.Connect(ctx, log, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()

	ledgerStore, err := ledger.NewStore(ledger.StoreConfig{Logger: log, Pool: pool, Clock: clock})
	if err != nil {
		return fmt.Errorf("failed to create ledger store: %w", err)
	}
	records, err := audit.NewPostgresStore(log, pool)
	if err != nil {
		return fmt.Errorf("failed to create audit record store: %w", err)
	}

	recorderCfg := audit.RecorderConfig{
		Logger:             log,
		Records:            records,
		ValidatorPublicKey: opts.ValidatorPublicKey,
		Clock:              clock,
	}
	if chCfg.Addr != "" {
		chClient, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return err
		}
		defer chClient.Close()
		stats, err := audit.NewClickHouseStatsStore(log, chClient)
		if err != nil {
			return fmt.Errorf("failed to create forge stats store: %w", err)
		}
		recorderCfg.Stats = stats
	} else {
		log.Info("clickhouse not configured, forge stats disabled")
	}
	recorder, err := audit.NewRecorder(recorderCfg)
	if err != nil {
		return fmt.Errorf("failed to create audit recorder: %w", err)
	}

	chain, err := hostchain.NewClient(hostchain.Config{
		Logger:            log,
		BaseURL:           *hostChainURLFlag,
		RequestsPerSecond: *hostChainRPSFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create host chain client: %w", err)
	}

	processor, err := forger.NewProcessor(forger.ProcessorConfig{
		Logger:                log,
		Options:               opts,
		HostChain:             chain,
		Ledger:                ledgerStore,
		Auditor:               recorder,
		Clock:                 hostchain.NewChainClock(clock),
		VoteLookupConcurrency: *voteLookupConcurrencyFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	watcher, err := forger.NewWatcher(forger.WatcherConfig{
		Logger:             log,
		Clock:              clock,
		Source:             chain,
		Progress:           ledgerStore,
		Processor:          processor,
		ValidatorPublicKey: opts.ValidatorPublicKey,
		PollInterval:       *pollIntervalFlag,
		StartHeight:        *startHeightFlag,
		OnError:            reportProcessError(log),
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:      log,
		ListenAddr:  *listenAddrFlag,
		VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
		Ledger:      ledgerStore,
		Records:     recorder,
		Watcher:     watcher,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("rewards: starting", "version", version, "validator", opts.ValidatorPublicKey,
		"share_percentage", opts.SharePercentage.String(), "blacklisted", len(opts.Blacklist))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Start(gctx)
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("rewards: stopped")
	return nil
}

// reportProcessError forwards failed heights to Sentry when it is enabled.
func reportProcessError(log *slog.Logger) func(*forger.ProcessError) {
	return func(err *forger.ProcessError) {
		log.Error("rewards: failed to process block", "height", err.Height, "stage", err.Stage, "error", err.Err)
		if sentry.CurrentHub().Client() == nil {
			return
		}
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("stage", string(err.Stage))
			scope.SetTag("height", fmt.Sprintf("%d", err.Height))
			sentry.CaptureException(err)
		})
	}
}
