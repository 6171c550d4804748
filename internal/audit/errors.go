package audit

import (
	"errors"
	"fmt"

	"github.com/temirov/auditgate/internal/evidence"
)

const blockingVerdictErrorTemplateConstant = "audit of task %s ended %s; downstream actions must not proceed"

// ErrLedgerIntegrity reports that `ledger verify` found a broken chain.
var ErrLedgerIntegrity = errors.New("evidence ledger failed verification")

// BlockingVerdictError makes the CLI exit non-zero for Critical and Error verdicts.
type BlockingVerdictError struct {
	TaskID string
	Status evidence.AuditStatus
}

func (blockingError *BlockingVerdictError) Error() string {
	return fmt.Sprintf(blockingVerdictErrorTemplateConstant, blockingError.TaskID, blockingError.Status)
}
