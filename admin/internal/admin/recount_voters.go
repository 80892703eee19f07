package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// VoterRecounter rebuilds the voter-count aggregate.
type VoterRecounter interface {
	RecountVoters(ctx context.Context) (before, after int64, err error)
}

// RecountVoters rewrites the voter-count aggregate from the ledger entries and reports the drift.
func RecountVoters(ctx context.Context, log *slog.Logger, store VoterRecounter, out io.Writer) error {
	before, after, err := store.RecountVoters(ctx)
	if err != nil {
		return err
	}
	if before == after {
		fmt.Fprintf(out, "Voter count is consistent: %d\n", after)
		return nil
	}
	log.Warn("admin: voter count drifted", "before", before, "after", after)
	fmt.Fprintf(out, "Voter count corrected: %d -> %d\n", before, after)
	return nil
}
