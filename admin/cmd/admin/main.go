package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/truebw/admin/internal/admin"
	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
	"github.com/malbeclabs/truebw/rewards/pkg/ledger"
	"github.com/malbeclabs/truebw/rewards/pkg/postgres"
	"github.com/malbeclabs/truebw/utils/pkg/logger"
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

	// PostgreSQL configuration
	postgresHostFlag := flag.String("postgres-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	postgresPortFlag := flag.String("postgres-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	postgresDBFlag := flag.String("postgres-db", "truebw", "PostgreSQL database (or set POSTGRES_DB env var)")
	postgresUserFlag := flag.String("postgres-user", "truebw", "PostgreSQL username (or set POSTGRES_USER env var)")
	postgresPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Commands
	postgresMigrateFlag := flag.Bool("postgres-migrate", false, "Run PostgreSQL ledger and audit migrations using goose")
	postgresMigrateStatusFlag := flag.Bool("postgres-migrate-status", false, "Show PostgreSQL migration status")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse forge stats migrations using goose")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show ClickHouse migration status")
	resetDBFlag := flag.Bool("reset-db", false, "Drop all ledger, audit and forge stats tables")
	recountVotersFlag := flag.Bool("recount-voters", false, "Recompute the voter count aggregate from the voter ledger")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	pgCfg := postgres.ConfigFromEnv(postgres.Config{
		Host:     *postgresHostFlag,
		Port:     *postgresPortFlag,
		Database: *postgresDBFlag,
		Username: *postgresUserFlag,
		Password: *postgresPasswordFlag,
		MaxConns: 2,
		MinConns: 1,
	})
	chCfg := clickhouse.ConfigFromEnv(clickhouse.Config{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *postgresMigrateFlag {
		return admin.PgMigrateUp(ctx, log, pgCfg)
	}

	if *postgresMigrateStatusFlag {
		return admin.PgMigrateStatus(ctx, log, pgCfg)
	}

	if *clickhouseMigrateFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return admin.ClickHouseMigrateUp(ctx, log, chCfg)
	}

	if *clickhouseMigrateStatusFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status")
		}
		return admin.ClickHouseMigrateStatus(ctx, log, chCfg)
	}

	if *resetDBFlag {
		pool, err := postgres.Connect(ctx, log, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		resetCfg := admin.ResetDBConfig{
			Postgres:    pool,
			CHDatabase:  chCfg.Database,
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		}
		if chCfg.Addr != "" {
			chClient, err := clickhouse.NewClient(ctx, log, chCfg)
			if err != nil {
				return err
			}
			defer chClient.Close()
			resetCfg.ClickHouse = chClient
		}
		return admin.ResetDB(ctx, log, resetCfg)
	}

	if *recountVotersFlag {
		pool, err := postgres.Connect(ctx, log, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := ledger.NewStore(ledger.StoreConfig{Logger: log, Pool: pool})
		if err != nil {
			return err
		}
		return admin.RecountVoters(ctx, log, store, os.Stdout)
	}

	flag.Usage()
	return nil
}
