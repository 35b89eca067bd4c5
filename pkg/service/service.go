package service

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/tallyworks/tally/pkg/access"
	"github.com/tallyworks/tally/pkg/allocation"
	"github.com/tallyworks/tally/pkg/entity"
	"github.com/tallyworks/tally/pkg/observability"
	"github.com/tallyworks/tally/pkg/store"
)

// Config wires the service's collaborators.
type Config struct {
	Store     *store.Store
	Resolver  *access.Resolver
	Validator *allocation.Validator
	Logger    *observability.Logger
	Metrics   *observability.Metrics

	// AdvisoryLocks serializes capacity-checked inserts per (worker, date)
	// key with pg_advisory_xact_lock. Enable against PostgreSQL; the
	// SQLite test path gets equivalent protection from its single-writer
	// transactions.
	AdvisoryLocks bool
}

// Service is the authorization/concurrency facade the transport layer
// talks to.
type Service struct {
	store         *store.Store
	resolver      *access.Resolver
	guard         *access.Guard
	validator     *allocation.Validator
	logger        *observability.Logger
	metrics       *observability.Metrics
	advisoryLocks bool
}

// New creates the facade.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		guard:         access.NewGuard(cfg.Resolver),
		validator:     cfg.Validator,
		logger:        logger,
		metrics:       cfg.Metrics,
		advisoryLocks: cfg.AdvisoryLocks,
	}
}

// withScope attaches a memoized request scope for the user unless the
// context already carries one.
func (s *Service) withScope(ctx context.Context, userID string) context.Context {
	if access.RequestScopeFrom(ctx, userID) != nil {
		return ctx
	}
	return access.WithRequestScope(ctx, access.NewRequestScope(s.resolver, userID))
}

// AuthorizeRead authorizes and returns one entity. A malformed id maps to
// not-found so callers cannot probe for valid ids; a well-formed id the
// user cannot see is denied with the uniform message.
func (s *Service) AuthorizeRead(ctx context.Context, userID string, t entity.Type, id string) (store.Row, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &store.NotFoundError{EntityType: t, EntityID: id}
	}
	ctx = s.withScope(ctx, userID)

	row, err := s.store.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRow(ctx, userID, t, row, false); err != nil {
		s.countDenied(t, err)
		return nil, err
	}
	return row, nil
}

// AuthorizeAndUpdate runs the full mutation pipeline: authorize the
// target, validate the merged state of changes over the current row, then
// submit the version-conditioned update. Assignments and actuals run the
// capacity check and the write in one transaction. On a version conflict the
// caller's payload is discarded and the winner's current state comes back
// inside the error.
func (s *Service) AuthorizeAndUpdate(ctx context.Context, userID string, t entity.Type, id string, expectedVersion int64, changes map[string]interface{}) (store.Row, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &store.NotFoundError{EntityType: t, EntityID: id}
	}
	ctx = s.withScope(ctx, userID)

	current, err := s.store.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRow(ctx, userID, t, current, true); err != nil {
		s.countDenied(t, err)
		return nil, err
	}

	merged := make(map[string]interface{}, len(current)+len(changes))
	for col, val := range current {
		merged[col] = val
	}
	for col, val := range changes {
		merged[col] = val
	}

	var updated store.Row
	switch t {
	case entity.TypeResourceAssignment, entity.TypeActual:
		// Capacity re-validation and the versioned write share one
		// transaction so a concurrent writer on the same worker-day
		// cannot slip between them.
		updated, err = s.updateWithCapacityCheck(ctx, t, id, expectedVersion, changes, merged)
	default:
		if err := s.validateEntityValues(ctx, t, merged); err != nil {
			if entity.IsValidation(err) {
				s.countValidationFailure(t)
			}
			return nil, err
		}
		updated, err = s.store.Update(ctx, t, id, expectedVersion, changes)
	}
	if err != nil {
		if store.IsConflict(err) {
			s.countConflict(t)
			s.logger.WithFields(map[string]interface{}{
				"entity_type":      string(t),
				"entity_id":        id,
				"expected_version": expectedVersion,
			}).Warn("Stale write rejected")
		}
		return nil, err
	}
	return updated, nil
}

// AuthorizeAndDelete authorizes and deletes one entity under the same
// scoping rules as updates.
func (s *Service) AuthorizeAndDelete(ctx context.Context, userID string, t entity.Type, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &store.NotFoundError{EntityType: t, EntityID: id}
	}
	ctx = s.withScope(ctx, userID)

	row, err := s.store.Get(ctx, t, id)
	if err != nil {
		return err
	}
	if err := s.authorizeRow(ctx, userID, t, row, true); err != nil {
		s.countDenied(t, err)
		return err
	}
	return s.store.Delete(ctx, t, id)
}

// FilterListByScope narrows candidate rows to those the user may see.
// Programs and projects filter on their own ids, project children on
// their project_id. Reference data passes through; user administration
// types are visible only under a global grant.
func (s *Service) FilterListByScope(ctx context.Context, userID string, t entity.Type, rows []store.Row) ([]store.Row, error) {
	ctx = s.withScope(ctx, userID)
	rs := access.RequestScopeFrom(ctx, userID)

	global, err := rs.HasGlobalScope(ctx)
	if err != nil {
		return nil, err
	}
	if global {
		return rows, nil
	}

	switch t {
	case entity.TypeProgram:
		accessible, err := rs.AccessiblePrograms(ctx)
		if err != nil {
			return nil, err
		}
		return filterRows(rows, func(r store.Row) bool { return accessible[r.ID()] }), nil

	case entity.TypeProject:
		accessible, err := rs.AccessibleProjects(ctx)
		if err != nil {
			return nil, err
		}
		return filterRows(rows, func(r store.Row) bool { return accessible[r.ID()] }), nil

	case entity.TypeProjectPhase, entity.TypeResourceAssignment, entity.TypeActual:
		accessible, err := rs.AccessibleProjects(ctx)
		if err != nil {
			return nil, err
		}
		return filterRows(rows, func(r store.Row) bool {
			return accessible[stringField(r, "project_id")]
		}), nil

	case entity.TypeUser, entity.TypeUserRole, entity.TypeScopeAssignment:
		return nil, nil

	default:
		// Portfolios, worker types, workers, rates, and resources are
		// reference data shared by every scoped user.
		return rows, nil
	}
}

// ValidateAllocation checks one proposed allocation against the worker's
// persisted day.
func (s *Service) ValidateAllocation(ctx context.Context, workerKey, date string, proposed entity.Percent, excludeID string) error {
	err := s.validator.WouldExceedCapacity(ctx, workerKey, date, proposed, excludeID)
	if allocation.IsCapacityExceeded(err) {
		s.countCapacityRejection()
	}
	return err
}

// ValidateAllocationBatch checks a bulk import, returning one conflict per
// over-allocated (worker, date) group.
func (s *Service) ValidateAllocationBatch(ctx context.Context, records []allocation.Record) ([]*allocation.CapacityExceededError, error) {
	conflicts, err := s.validator.ValidateBatch(ctx, records)
	if err != nil {
		return nil, err
	}
	for range conflicts {
		s.countCapacityRejection()
	}
	return conflicts, nil
}

// WorkerDayBreakdown reports how one worker's day splits across projects.
func (s *Service) WorkerDayBreakdown(ctx context.Context, workerKey, date string) ([]allocation.ProjectShare, error) {
	return s.validator.CrossProjectBreakdown(ctx, workerKey, date)
}

// OverAllocationReport returns every over-allocated worker-day inside an
// inclusive date range.
func (s *Service) OverAllocationReport(ctx context.Context, from, to string) ([]allocation.OverAllocation, error) {
	return s.validator.OverAllocatedDates(ctx, from, to)
}

// authorizeRow dispatches authorization by entity type. The scope model
// is closed over the known types so adding one is a compile-visible
// change here.
func (s *Service) authorizeRow(ctx context.Context, userID string, t entity.Type, row store.Row, write bool) error {
	switch t {
	case entity.TypeProgram:
		if write {
			return s.guard.AuthorizeProgramWrite(ctx, userID, row.ID())
		}
		return s.guard.AuthorizeProgram(ctx, userID, row.ID())

	case entity.TypeProject:
		return s.guard.AuthorizeProject(ctx, userID, row.ID())

	case entity.TypeProjectPhase, entity.TypeResourceAssignment, entity.TypeActual:
		return s.guard.AuthorizeProject(ctx, userID, stringField(row, "project_id"))

	case entity.TypeUser, entity.TypeUserRole, entity.TypeScopeAssignment:
		return s.guard.AuthorizeGlobal(ctx, userID, t, row.ID())

	case entity.TypePortfolio, entity.TypeWorkerType, entity.TypeWorker,
		entity.TypeRate, entity.TypeResource:
		// Reference data reads freely; mutations need a global grant.
		if write {
			return s.guard.AuthorizeGlobal(ctx, userID, t, row.ID())
		}
		return nil

	default:
		return fmt.Errorf("no authorization rule for entity type %q", t)
	}
}

func filterRows(rows []store.Row, keep func(store.Row) bool) []store.Row {
	filtered := make([]store.Row, 0, len(rows))
	for _, r := range rows {
		if keep(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func (s *Service) countConflict(t entity.Type) {
	if s.metrics != nil {
		s.metrics.ConflictsTotal.WithLabelValues(string(t)).Inc()
	}
}

func (s *Service) countDenied(t entity.Type, err error) {
	if s.metrics != nil && access.IsDenied(err) {
		s.metrics.AccessDeniedTotal.WithLabelValues(string(t)).Inc()
	}
}

func (s *Service) countCapacityRejection() {
	if s.metrics != nil {
		s.metrics.CapacityRejectionsTotal.Inc()
	}
}

// lockKey folds a (worker, date) pair into the signed 64-bit key space
// pg_advisory_xact_lock expects.
func lockKey(workerKey, date string) int64 {
	h := fnv.New64a()
	h.Write([]byte(workerKey))
	h.Write([]byte{0})
	h.Write([]byte(date))
	return int64(h.Sum64())
}
