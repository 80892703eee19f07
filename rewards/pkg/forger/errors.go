package forger

import "fmt"

// Stage names the step of block processing that failed.
type Stage string

const (
	StageVoters    Stage = "voters"
	StageValidator Stage = "validator"
	StageVotes     Stage = "votes"
	StageApportion Stage = "apportion"
	StageLedger    Stage = "ledger"
	StageAudit     Stage = "audit"
)

// ProcessError reports the height and stage at which processing a block failed.
type ProcessError struct {
	Height uint64
	Stage  Stage
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("block %d: %s: %v", e.Height, e.Stage, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
