package api

import (
	"github.com/tallyworks/tally/pkg/allocation"
	"github.com/tallyworks/tally/pkg/entity"
)

// UpdateRequest is a versioned mutation: the caller states the version it
// read and the fields it wants changed. The store owns id, version, and
// timestamps; they are ignored if present in Changes.
type UpdateRequest struct {
	ExpectedVersion int64                  `json:"expected_version"`
	Changes         map[string]interface{} `json:"changes"`
}

// CreateRequest carries the new entity's fields keyed by column name.
type CreateRequest map[string]interface{}

// ValidateAllocationRequest checks one proposed allocation.
type ValidateAllocationRequest struct {
	WorkerKey  string         `json:"worker_key"`
	Date       string         `json:"date"`
	Percentage entity.Percent `json:"percentage"`
	ExcludeID  string         `json:"exclude_id,omitempty"`
}

// ValidateBatchRequest checks a bulk import as one unit.
type ValidateBatchRequest struct {
	Records []allocation.Record `json:"records"`
}

// ValidateBatchResponse lists one conflict per over-allocated worker-day.
type ValidateBatchResponse struct {
	Valid     bool                                `json:"valid"`
	Conflicts []*allocation.CapacityExceededError `json:"conflicts"`
}

// BreakdownResponse is a worker's day split across projects.
type BreakdownResponse struct {
	WorkerKey string                    `json:"worker_key"`
	Date      string                    `json:"date"`
	Shares    []allocation.ProjectShare `json:"shares"`
	Total     entity.Percent            `json:"total"`
}

// OverAllocationResponse is the range report.
type OverAllocationResponse struct {
	From    string                      `json:"from"`
	To      string                      `json:"to"`
	Results []allocation.OverAllocation `json:"results"`
}
