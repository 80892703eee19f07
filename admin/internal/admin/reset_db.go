package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
)

// ResetDBConfig selects the databases to reset. A nil ClickHouse client leaves ClickHouse untouched.
type ResetDBConfig struct {
	Postgres    *pgxpool.Pool
	ClickHouse  clickhouse.Client
	CHDatabase  string
	DryRun      bool
	SkipConfirm bool

	// In and Out are the confirmation prompt's input and output.
	In  io.Reader
	Out io.Writer
}

// ResetDB drops every ledger, audit and migration table so the service can be rebuilt from
// scratch. It lists what it would drop and asks for confirmation unless SkipConfirm is set.
func ResetDB(ctx context.Context, log *slog.Logger, cfg ResetDBConfig) error {
	out := cfg.Out

	pgTables, err := listPgTables(ctx, cfg.Postgres)
	if err != nil {
		return err
	}

	var chTables []string
	var chConn clickhouse.Connection
	if cfg.ClickHouse != nil {
		chConn, err = cfg.ClickHouse.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to get clickhouse connection: %w", err)
		}
		defer chConn.Close()
		if chTables, err = listCHTables(ctx, chConn, cfg.CHDatabase); err != nil {
			return err
		}
	}

	if len(pgTables) == 0 && len(chTables) == 0 {
		fmt.Fprintln(out, "No tables found")
		return nil
	}

	fmt.Fprintf(out, "WARNING: This will DROP %d PostgreSQL table(s) and %d ClickHouse table(s):\n\n", len(pgTables), len(chTables))
	if len(pgTables) > 0 {
		fmt.Fprintln(out, "PostgreSQL:")
		for _, table := range pgTables {
			fmt.Fprintf(out, "  - %s\n", table)
		}
	}
	if len(chTables) > 0 {
		fmt.Fprintf(out, "\nClickHouse (%s):\n", cfg.CHDatabase)
		for _, table := range chTables {
			fmt.Fprintf(out, "  - %s\n", table)
		}
	}

	if cfg.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would drop the above tables")
		return nil
	}

	if !cfg.SkipConfirm {
		fmt.Fprintf(out, "\nThis is a DESTRUCTIVE operation that cannot be undone!\n")
		fmt.Fprintf(out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(cfg.In).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	for _, table := range pgTables {
		if _, err := cfg.Postgres.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{table}.Sanitize()+" CASCADE"); err != nil {
			return fmt.Errorf("failed to drop postgres table %s: %w", table, err)
		}
		fmt.Fprintf(out, "  dropped postgres table %s\n", table)
	}
	for _, table := range chTables {
		if err := chConn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`.`%s`", cfg.CHDatabase, table)); err != nil {
			return fmt.Errorf("failed to drop clickhouse table %s: %w", table, err)
		}
		fmt.Fprintf(out, "  dropped clickhouse table %s\n", table)
	}

	log.Info("admin: reset databases", "postgres_tables", len(pgTables), "clickhouse_tables", len(chTables))
	fmt.Fprintf(out, "\nSuccessfully dropped %d table(s)\n", len(pgTables)+len(chTables))
	return nil
}

func listPgTables(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query postgres tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan postgres tables: %w", err)
	}
	return tables, nil
}

func listCHTables(ctx context.Context, conn clickhouse.Connection, database string) ([]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND (name LIKE 'fact_tbw_%' OR name = 'goose_db_version')
		ORDER BY name
	`, database)
	if err != nil {
		return nil, fmt.Errorf("failed to query clickhouse tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan clickhouse table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
