package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tallyworks/tally/pkg/allocation"
	"github.com/tallyworks/tally/pkg/entity"
	"github.com/tallyworks/tally/pkg/store"
)

// CreateAssignment authorizes and inserts a resource assignment with the
// capacity check and the insert in one transaction, serialized per
// (worker, date) key when advisory locks are enabled. Non-labor resources
// have no worker and skip the capacity check.
func (s *Service) CreateAssignment(ctx context.Context, userID string, values map[string]interface{}) (store.Row, error) {
	ctx = s.withScope(ctx, userID)

	projectID := stringField(values, "project_id")
	if projectID == "" {
		return nil, &entity.ValidationError{Entity: entity.TypeResourceAssignment, Field: "project_id", Message: "required"}
	}
	if err := s.guard.AuthorizeProject(ctx, userID, projectID); err != nil {
		s.countDenied(entity.TypeResourceAssignment, err)
		return nil, err
	}

	assignment, err := assignmentFromValues(values)
	if err != nil {
		return nil, err
	}
	if err := assignment.Validate(); err != nil {
		s.countValidationFailure(entity.TypeResourceAssignment)
		return nil, err
	}

	workerKey, err := s.workerKeyForResource(ctx, assignment.ResourceID)
	if err != nil {
		return nil, err
	}

	return s.createWithCapacityCheck(ctx, entity.TypeResourceAssignment, values,
		workerKey, assignment.AssignmentDate, assignment.CommittedPercentage())
}

// CreateActual authorizes and inserts an actual under the same hardened
// check-then-insert path as assignments.
func (s *Service) CreateActual(ctx context.Context, userID string, values map[string]interface{}) (store.Row, error) {
	ctx = s.withScope(ctx, userID)

	projectID := stringField(values, "project_id")
	if projectID == "" {
		return nil, &entity.ValidationError{Entity: entity.TypeActual, Field: "project_id", Message: "required"}
	}
	if err := s.guard.AuthorizeProject(ctx, userID, projectID); err != nil {
		s.countDenied(entity.TypeActual, err)
		return nil, err
	}

	actual, err := actualFromValues(values)
	if err != nil {
		return nil, err
	}
	if err := actual.Validate(); err != nil {
		s.countValidationFailure(entity.TypeActual)
		return nil, err
	}

	return s.createWithCapacityCheck(ctx, entity.TypeActual, values,
		actual.ExternalWorkerID, actual.ActualDate, actual.AllocationPercentage)
}

// createWithCapacityCheck runs the capacity check and the insert inside
// one transaction. With advisory locks enabled, concurrent writers for
// the same (worker, date) queue behind pg_advisory_xact_lock, so the
// second writer's check sees the first writer's committed row.
func (s *Service) createWithCapacityCheck(ctx context.Context, t entity.Type, values map[string]interface{}, workerKey, date string, proposed entity.Percent) (store.Row, error) {
	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if workerKey != "" {
		if s.advisoryLocks {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(workerKey, date)); err != nil {
				return nil, fmt.Errorf("failed to acquire allocation lock for worker %s on %s: %w", workerKey, date, err)
			}
		}
		if err := s.validator.WithQuerier(tx).WouldExceedCapacity(ctx, workerKey, date, proposed, ""); err != nil {
			if allocation.IsCapacityExceeded(err) {
				s.countCapacityRejection()
			}
			return nil, err
		}
	}

	row, err := s.store.CreateTx(ctx, tx, t, values)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s insert: %w", t, err)
	}
	return row, nil
}

// updateWithCapacityCheck re-validates the merged state of an assignment
// or actual and applies the version-conditioned update inside the same
// transaction, serialized per (worker, date) key like the create path.
// The record's own persisted contribution is excluded from the capacity
// sum, so without the shared transaction two concurrent raises on the same
// worker-day could each pass the check against stale sums and jointly
// commit past capacity.
func (s *Service) updateWithCapacityCheck(ctx context.Context, t entity.Type, id string, expectedVersion int64, changes, merged map[string]interface{}) (store.Row, error) {
	var workerKey, date string
	var proposed entity.Percent

	switch t {
	case entity.TypeResourceAssignment:
		assignment, err := assignmentFromValues(merged)
		if err != nil {
			return nil, err
		}
		if err := assignment.Validate(); err != nil {
			s.countValidationFailure(t)
			return nil, err
		}
		workerKey, err = s.workerKeyForResource(ctx, assignment.ResourceID)
		if err != nil {
			return nil, err
		}
		date = assignment.AssignmentDate
		proposed = assignment.CommittedPercentage()

	case entity.TypeActual:
		actual, err := actualFromValues(merged)
		if err != nil {
			return nil, err
		}
		if err := actual.Validate(); err != nil {
			s.countValidationFailure(t)
			return nil, err
		}
		workerKey = actual.ExternalWorkerID
		date = actual.ActualDate
		proposed = actual.AllocationPercentage
	}

	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if workerKey != "" {
		if s.advisoryLocks {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(workerKey, date)); err != nil {
				return nil, fmt.Errorf("failed to acquire allocation lock for worker %s on %s: %w", workerKey, date, err)
			}
		}
		if err := s.validator.WithQuerier(tx).WouldExceedCapacity(ctx, workerKey, date, proposed, id); err != nil {
			if allocation.IsCapacityExceeded(err) {
				s.countCapacityRejection()
			}
			return nil, err
		}
	}

	row, err := s.store.UpdateTx(ctx, tx, t, id, expectedVersion, changes)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s update: %w", t, err)
	}
	return row, nil
}

// workerKeyForResource resolves a resource to its worker's external id.
// Non-labor resources return "".
func (s *Service) workerKeyForResource(ctx context.Context, resourceID string) (string, error) {
	var externalID sql.NullString
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT w.external_id
		FROM resources r
		LEFT JOIN workers w ON w.id = r.worker_id
		WHERE r.id = $1`, resourceID).Scan(&externalID)
	if err == sql.ErrNoRows {
		return "", &entity.ValidationError{Entity: entity.TypeResourceAssignment, Field: "resource_id",
			Message: fmt.Sprintf("resource %s does not exist", resourceID)}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve worker for resource %s: %w", resourceID, err)
	}
	if !externalID.Valid {
		return "", nil
	}
	return externalID.String, nil
}

func (s *Service) countValidationFailure(t entity.Type) {
	if s.metrics != nil {
		s.metrics.ValidationFailuresTotal.WithLabelValues(string(t)).Inc()
	}
}

func assignmentFromValues(values map[string]interface{}) (*entity.ResourceAssignment, error) {
	capital, err := percentField(values, "capital_percentage")
	if err != nil {
		return nil, err
	}
	expense, err := percentField(values, "expense_percentage")
	if err != nil {
		return nil, err
	}
	return &entity.ResourceAssignment{
		ID:                stringField(values, "id"),
		ResourceID:        stringField(values, "resource_id"),
		ProjectID:         stringField(values, "project_id"),
		AssignmentDate:    stringField(values, "assignment_date"),
		CapitalPercentage: capital,
		ExpensePercentage: expense,
	}, nil
}

func actualFromValues(values map[string]interface{}) (*entity.Actual, error) {
	pct, err := percentField(values, "allocation_percentage")
	if err != nil {
		return nil, err
	}
	return &entity.Actual{
		ID:                   stringField(values, "id"),
		ProjectID:            stringField(values, "project_id"),
		ExternalWorkerID:     stringField(values, "external_worker_id"),
		ActualDate:           stringField(values, "actual_date"),
		AllocationPercentage: pct,
		ActualCostCents:      intField(values, "actual_cost_cents"),
		CapitalAmountCents:   intField(values, "capital_amount_cents"),
		ExpenseAmountCents:   intField(values, "expense_amount_cents"),
	}, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func percentField(m map[string]interface{}, key string) (entity.Percent, error) {
	switch v := m[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return entity.PercentFromFloat(v), nil
	case int64:
		return entity.PercentFromFloat(float64(v)), nil
	case int:
		return entity.PercentFromFloat(float64(v)), nil
	case string:
		p, err := entity.ParsePercent(v)
		if err != nil {
			return 0, &entity.ValidationError{Entity: entity.TypeResourceAssignment, Field: key, Message: err.Error()}
		}
		return p, nil
	default:
		return 0, &entity.ValidationError{Entity: entity.TypeResourceAssignment, Field: key,
			Message: fmt.Sprintf("unsupported value type %T", v)}
	}
}
