package tbw

import (
	"errors"
	"fmt"
)

var (
	// ErrNoVotingPower is reported when the effective voting power is zero and nothing was paid out.
	ErrNoVotingPower = errors.New("no effective voting power")

	// ErrMissingVoteHistory is wrapped by MissingVoteHistoryError.
	ErrMissingVoteHistory = errors.New("missing vote history")

	// ErrInvalidOptions is wrapped by every options validation failure.
	ErrInvalidOptions = errors.New("invalid options")
)

// MissingVoteHistoryError is returned when an active voter has no recorded vote event.
type MissingVoteHistoryError struct {
	Wallet string
}

func (e *MissingVoteHistoryError) Error() string {
	return fmt.Sprintf("%s for voter %s", ErrMissingVoteHistory, e.Wallet)
}

func (e *MissingVoteHistoryError) Unwrap() error {
	return ErrMissingVoteHistory
}

func invalidOptions(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
}
