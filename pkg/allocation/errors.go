package allocation

import (
	"errors"
	"fmt"

	"github.com/tallyworks/tally/pkg/entity"
)

// CapacityExceededError reports a proposed allocation that would push a
// worker past full capacity on one day. It carries everything needed for a
// precise user-facing message.
type CapacityExceededError struct {
	WorkerKey      string         `json:"worker_key"`
	Date           string         `json:"date"`
	ExistingTotal  entity.Percent `json:"existing_total"`
	Proposed       entity.Percent `json:"proposed"`
	ResultingTotal entity.Percent `json:"resulting_total"`
	Excess         entity.Percent `json:"excess"`
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("worker %s is over capacity on %s: existing %s%% + proposed %s%% = %s%% exceeds 100.00%% by %s%%",
		e.WorkerKey, e.Date, e.ExistingTotal, e.Proposed, e.ResultingTotal, e.Excess)
}

// IsCapacityExceeded reports whether err is a CapacityExceededError.
func IsCapacityExceeded(err error) bool {
	var ce *CapacityExceededError
	return errors.As(err, &ce)
}
