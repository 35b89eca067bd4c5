package service

import (
	"context"

	"github.com/tallyworks/tally/pkg/entity"
	"github.com/tallyworks/tally/pkg/store"
)

// AuthorizeAndCreate authorizes and inserts a new entity. Assignments and
// actuals route through the capacity-hardened path; projects require
// write access to their program; project phases require access to their
// project; everything else requires a global grant. Scope assignments are
// validated for exclusivity and referential existence before persisting.
func (s *Service) AuthorizeAndCreate(ctx context.Context, userID string, t entity.Type, values map[string]interface{}) (store.Row, error) {
	switch t {
	case entity.TypeResourceAssignment:
		return s.CreateAssignment(ctx, userID, values)
	case entity.TypeActual:
		return s.CreateActual(ctx, userID, values)
	}

	ctx = s.withScope(ctx, userID)

	switch t {
	case entity.TypeProject:
		programID := stringField(values, "program_id")
		if programID == "" {
			return nil, &entity.ValidationError{Entity: t, Field: "program_id", Message: "required"}
		}
		if err := s.guard.AuthorizeProgramWrite(ctx, userID, programID); err != nil {
			s.countDenied(t, err)
			return nil, err
		}

	case entity.TypeProjectPhase:
		projectID := stringField(values, "project_id")
		if projectID == "" {
			return nil, &entity.ValidationError{Entity: t, Field: "project_id", Message: "required"}
		}
		if err := s.guard.AuthorizeProject(ctx, userID, projectID); err != nil {
			s.countDenied(t, err)
			return nil, err
		}

	default:
		if err := s.guard.AuthorizeGlobal(ctx, userID, t, stringField(values, "id")); err != nil {
			s.countDenied(t, err)
			return nil, err
		}
	}

	if err := s.validateEntityValues(ctx, t, values); err != nil {
		if entity.IsValidation(err) {
			s.countValidationFailure(t)
		}
		return nil, err
	}

	return s.store.Create(ctx, t, values)
}

// validateEntityValues dispatches field-level validation for the entity
// types that carry invariants beyond column existence. Assignments and
// actuals are not handled here; their dedicated create and update paths
// validate before the capacity check.
func (s *Service) validateEntityValues(ctx context.Context, t entity.Type, values map[string]interface{}) error {
	switch t {
	case entity.TypeRate:
		return rateFromValues(values).Validate()
	case entity.TypeResource:
		return resourceFromValues(values).Validate()
	case entity.TypeUserRole:
		return userRoleFromValues(values).Validate()
	case entity.TypeProjectPhase:
		return phaseDatesValid(values)
	case entity.TypeScopeAssignment:
		return s.validateScopeAssignmentValues(ctx, values)
	}
	return nil
}

func rateFromValues(values map[string]interface{}) *entity.Rate {
	r := &entity.Rate{
		ID:           stringField(values, "id"),
		WorkerTypeID: stringField(values, "worker_type_id"),
		CentsPerHour: intField(values, "cents_per_hour"),
		StartDate:    stringField(values, "start_date"),
	}
	if v := stringField(values, "end_date"); v != "" {
		r.EndDate = &v
	}
	return r
}

func resourceFromValues(values map[string]interface{}) *entity.Resource {
	r := &entity.Resource{
		ID:   stringField(values, "id"),
		Kind: entity.ResourceKind(stringField(values, "kind")),
		Name: stringField(values, "name"),
	}
	if v := stringField(values, "worker_id"); v != "" {
		r.WorkerID = &v
	}
	return r
}

func userRoleFromValues(values map[string]interface{}) *entity.UserRole {
	return &entity.UserRole{
		ID:       stringField(values, "id"),
		UserID:   stringField(values, "user_id"),
		RoleType: entity.RoleType(stringField(values, "role_type")),
	}
}

func phaseDatesValid(values map[string]interface{}) error {
	start := stringField(values, "start_date")
	if err := entity.ValidateDate(start); err != nil {
		return &entity.ValidationError{Entity: entity.TypeProjectPhase, Field: "start_date", Message: err.Error()}
	}
	end := stringField(values, "end_date")
	if err := entity.ValidateDate(end); err != nil {
		return &entity.ValidationError{Entity: entity.TypeProjectPhase, Field: "end_date", Message: err.Error()}
	}
	if end < start {
		return &entity.ValidationError{Entity: entity.TypeProjectPhase, Field: "end_date", Message: "must not precede start_date"}
	}
	return nil
}

func (s *Service) validateScopeAssignmentValues(ctx context.Context, values map[string]interface{}) error {
	sa := &entity.ScopeAssignment{
		ID:         stringField(values, "id"),
		UserRoleID: stringField(values, "user_role_id"),
		ScopeType:  entity.ScopeType(stringField(values, "scope_type")),
	}
	if v := stringField(values, "program_id"); v != "" {
		sa.ProgramID = &v
	}
	if v := stringField(values, "project_id"); v != "" {
		sa.ProjectID = &v
	}
	return s.resolver.Store().ValidateScopeAssignment(ctx, sa)
}
