package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/truebw/rewards/pkg/audit"
	"github.com/malbeclabs/truebw/rewards/pkg/ledger"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// LedgerReader is the read side of the voter ledger.
type LedgerReader interface {
	GetVoter(ctx context.Context, wallet string) (*ledger.Voter, error)
	ListVoters(ctx context.Context, limit, offset int) ([]ledger.Voter, int, error)
	VoterCount(ctx context.Context) (int64, error)
}

// RecordReader reads block reward records.
type RecordReader interface {
	Record(ctx context.Context, height uint64) (*audit.Record, error)
}

// ReadyChecker reports whether the block watcher has caught up once.
type ReadyChecker interface {
	Ready() bool
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	Ledger  LedgerReader
	Records RecordReader
	Watcher ReadyChecker

	// AllowedOrigins is the CORS origin allow-list of the read API. Empty allows any origin.
	AllowedOrigins []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger reader is required")
	}
	if cfg.Records == nil {
		return errors.New("record reader is required")
	}
	if cfg.Watcher == nil {
		return errors.New("watcher is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return nil
}
