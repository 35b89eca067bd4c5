package allocation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/tallyworks/tally/pkg/entity"
)

// Querier is the read surface the validator needs. Both *sql.DB and
// *sql.Tx satisfy it; the service layer passes a transaction so the
// capacity check shares isolation with the insert it protects.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Record is one proposed allocation in a batch check.
type Record struct {
	ID         string         `json:"id,omitempty"`
	WorkerKey  string         `json:"worker_key"`
	Date       string         `json:"date"`
	Percentage entity.Percent `json:"percentage"`
}

// ProjectShare is one project's slice of a worker's day.
type ProjectShare struct {
	ProjectID string         `json:"project_id"`
	Total     entity.Percent `json:"total"`
}

// OverAllocation is one worker-day whose aggregate exceeds full capacity.
type OverAllocation struct {
	WorkerKey string         `json:"worker_key"`
	Date      string         `json:"date"`
	Total     entity.Percent `json:"total"`
}

// Validator answers capacity questions against the persisted assignments
// and actuals.
type Validator struct {
	db Querier
}

// NewValidator creates a validator reading through q.
func NewValidator(q Querier) *Validator {
	return &Validator{db: q}
}

// WithQuerier returns a validator bound to a different read surface,
// typically an open transaction.
func (v *Validator) WithQuerier(q Querier) *Validator {
	return &Validator{db: q}
}

const assignmentsForWorkerDayQuery = `
	SELECT ra.id, ra.capital_percentage + ra.expense_percentage
	FROM resource_assignments ra
	JOIN resources r ON r.id = ra.resource_id
	JOIN workers w ON w.id = r.worker_id
	WHERE w.external_id = $1 AND ra.assignment_date = $2`

const actualsForWorkerDayQuery = `
	SELECT id, allocation_percentage
	FROM actuals
	WHERE external_worker_id = $1 AND actual_date = $2`

// PersistedTotal sums a worker's allocation for one day across assignments
// and actuals, skipping the excluded record ids. Each stored value is
// converted to fixed point individually so the sum is exact.
func (v *Validator) PersistedTotal(ctx context.Context, workerKey, date string, exclude ...string) (entity.Percent, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		if id != "" {
			excluded[id] = true
		}
	}

	var total entity.Percent
	for _, query := range []string{assignmentsForWorkerDayQuery, actualsForWorkerDayQuery} {
		sum, err := v.sumRows(ctx, query, workerKey, date, excluded)
		if err != nil {
			return 0, err
		}
		total += sum
	}
	return total, nil
}

func (v *Validator) sumRows(ctx context.Context, query, workerKey, date string, excluded map[string]bool) (entity.Percent, error) {
	rows, err := v.db.QueryContext(ctx, query, workerKey, date)
	if err != nil {
		return 0, fmt.Errorf("failed to query allocations for worker %s on %s: %w", workerKey, date, err)
	}
	defer rows.Close()

	var total entity.Percent
	for rows.Next() {
		var id string
		var value float64
		if err := rows.Scan(&id, &value); err != nil {
			return 0, fmt.Errorf("failed to scan allocation row: %w", err)
		}
		if excluded[id] {
			continue
		}
		total += entity.PercentFromFloat(value)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read allocation rows: %w", err)
	}
	return total, nil
}

// WouldExceedCapacity checks one proposed allocation against the worker's
// persisted total for the day. excludeID names the record being updated so
// its prior contribution is not counted against itself; pass "" for new
// records. Returns nil when the proposal fits, a *CapacityExceededError
// when it does not.
func (v *Validator) WouldExceedCapacity(ctx context.Context, workerKey, date string, proposed entity.Percent, excludeID string) error {
	existing, err := v.PersistedTotal(ctx, workerKey, date, excludeID)
	if err != nil {
		return err
	}
	resulting := existing + proposed
	if resulting <= entity.FullAllocation {
		return nil
	}
	return &CapacityExceededError{
		WorkerKey:      workerKey,
		Date:           date,
		ExistingTotal:  existing,
		Proposed:       proposed,
		ResultingTotal: resulting,
		Excess:         resulting - entity.FullAllocation,
	}
}

// ValidateBatch checks a set of proposed records together, grouped by
// (worker, date). The persisted total for each group is read once; the
// group's proposed percentages are summed on top of it, so several rows
// that are individually fine but collectively over the limit produce
// exactly one conflict for their key. Record ids present in the batch are
// excluded from the persisted total, which makes re-imports idempotent.
func (v *Validator) ValidateBatch(ctx context.Context, records []Record) ([]*CapacityExceededError, error) {
	type key struct {
		worker string
		date   string
	}
	groups := make(map[key][]Record)
	order := make([]key, 0)
	for _, rec := range records {
		k := key{worker: rec.WorkerKey, date: rec.Date}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}

	var conflicts []*CapacityExceededError
	for _, k := range order {
		group := groups[k]
		exclude := make([]string, 0, len(group))
		var proposed entity.Percent
		for _, rec := range group {
			proposed += rec.Percentage
			if rec.ID != "" {
				exclude = append(exclude, rec.ID)
			}
		}

		existing, err := v.PersistedTotal(ctx, k.worker, k.date, exclude...)
		if err != nil {
			return nil, err
		}
		resulting := existing + proposed
		if resulting > entity.FullAllocation {
			conflicts = append(conflicts, &CapacityExceededError{
				WorkerKey:      k.worker,
				Date:           k.date,
				ExistingTotal:  existing,
				Proposed:       proposed,
				ResultingTotal: resulting,
				Excess:         resulting - entity.FullAllocation,
			})
		}
	}
	return conflicts, nil
}

const assignmentsByProjectQuery = `
	SELECT ra.project_id, ra.capital_percentage + ra.expense_percentage
	FROM resource_assignments ra
	JOIN resources r ON r.id = ra.resource_id
	JOIN workers w ON w.id = r.worker_id
	WHERE w.external_id = $1 AND ra.assignment_date = $2`

const actualsByProjectQuery = `
	SELECT project_id, allocation_percentage
	FROM actuals
	WHERE external_worker_id = $1 AND actual_date = $2`

// CrossProjectBreakdown reports how one worker's day splits across
// projects, combining assignments and actuals. Shares are sorted by
// project id for stable output.
func (v *Validator) CrossProjectBreakdown(ctx context.Context, workerKey, date string) ([]ProjectShare, error) {
	totals := make(map[string]entity.Percent)
	for _, query := range []string{assignmentsByProjectQuery, actualsByProjectQuery} {
		rows, err := v.db.QueryContext(ctx, query, workerKey, date)
		if err != nil {
			return nil, fmt.Errorf("failed to query project breakdown for worker %s on %s: %w", workerKey, date, err)
		}
		for rows.Next() {
			var projectID string
			var value float64
			if err := rows.Scan(&projectID, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan breakdown row: %w", err)
			}
			totals[projectID] += entity.PercentFromFloat(value)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read breakdown rows: %w", err)
		}
		rows.Close()
	}

	shares := make([]ProjectShare, 0, len(totals))
	for projectID, total := range totals {
		shares = append(shares, ProjectShare{ProjectID: projectID, Total: total})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].ProjectID < shares[j].ProjectID })
	return shares, nil
}

const assignmentsInRangeQuery = `
	SELECT w.external_id, ra.assignment_date, ra.capital_percentage + ra.expense_percentage
	FROM resource_assignments ra
	JOIN resources r ON r.id = ra.resource_id
	JOIN workers w ON w.id = r.worker_id
	WHERE ra.assignment_date >= $1 AND ra.assignment_date <= $2`

const actualsInRangeQuery = `
	SELECT external_worker_id, actual_date, allocation_percentage
	FROM actuals
	WHERE actual_date >= $1 AND actual_date <= $2`

// OverAllocatedDates scans a date range and returns every worker-day whose
// aggregate allocation exceeds full capacity, sorted by date then worker.
// Dates are inclusive ISO strings; the range comparison is lexicographic,
// which is correct for the fixed layout.
func (v *Validator) OverAllocatedDates(ctx context.Context, from, to string) ([]OverAllocation, error) {
	type key struct {
		worker string
		date   string
	}
	totals := make(map[key]entity.Percent)
	for _, query := range []string{assignmentsInRangeQuery, actualsInRangeQuery} {
		rows, err := v.db.QueryContext(ctx, query, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to query allocations between %s and %s: %w", from, to, err)
		}
		for rows.Next() {
			var worker, date string
			var value float64
			if err := rows.Scan(&worker, &date, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan range row: %w", err)
			}
			totals[key{worker: worker, date: date}] += entity.PercentFromFloat(value)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read range rows: %w", err)
		}
		rows.Close()
	}

	var over []OverAllocation
	for k, total := range totals {
		if total > entity.FullAllocation {
			over = append(over, OverAllocation{WorkerKey: k.worker, Date: k.date, Total: total})
		}
	}
	sort.Slice(over, func(i, j int) bool {
		if over[i].Date != over[j].Date {
			return over[i].Date < over[j].Date
		}
		return over[i].WorkerKey < over[j].WorkerKey
	})
	return over, nil
}
