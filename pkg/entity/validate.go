package entity

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// ValidationError reports a malformed entity rejected before persistence.
type ValidationError struct {
	Entity  Type
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s: %s", e.Entity, e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateDate checks a calendar date string against DateLayout.
func ValidateDate(s string) error {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return nil
}

// Validate checks field-level invariants of a resource assignment: both
// percentages in [0,100] and their sum at most 100.
func (a *ResourceAssignment) Validate() error {
	if err := ValidateDate(a.AssignmentDate); err != nil {
		return &ValidationError{Entity: TypeResourceAssignment, Field: "assignment_date", Message: err.Error()}
	}
	if !a.CapitalPercentage.InRange() {
		return &ValidationError{Entity: TypeResourceAssignment, Field: "capital_percentage", Message: "must be between 0 and 100"}
	}
	if !a.ExpensePercentage.InRange() {
		return &ValidationError{Entity: TypeResourceAssignment, Field: "expense_percentage", Message: "must be between 0 and 100"}
	}
	if a.CapitalPercentage+a.ExpensePercentage > FullAllocation {
		return &ValidationError{Entity: TypeResourceAssignment, Field: "capital_percentage", Message: "capital and expense percentages must not sum above 100"}
	}
	return nil
}

// CommittedPercentage is the assignment's contribution to its worker's
// daily allocation total.
func (a *ResourceAssignment) CommittedPercentage() Percent {
	return a.CapitalPercentage + a.ExpensePercentage
}

// Validate checks field-level invariants of an actual: allocation in
// [0,100] and the capital/expense amounts summing to the actual cost.
func (a *Actual) Validate() error {
	if err := ValidateDate(a.ActualDate); err != nil {
		return &ValidationError{Entity: TypeActual, Field: "actual_date", Message: err.Error()}
	}
	if a.ExternalWorkerID == "" {
		return &ValidationError{Entity: TypeActual, Field: "external_worker_id", Message: "required"}
	}
	if !a.AllocationPercentage.InRange() {
		return &ValidationError{Entity: TypeActual, Field: "allocation_percentage", Message: "must be between 0 and 100"}
	}
	if a.CapitalAmountCents < 0 || a.ExpenseAmountCents < 0 {
		return &ValidationError{Entity: TypeActual, Field: "capital_amount_cents", Message: "amounts must not be negative"}
	}
	if a.CapitalAmountCents+a.ExpenseAmountCents != a.ActualCostCents {
		return &ValidationError{Entity: TypeActual, Field: "actual_cost_cents", Message: "capital and expense amounts must sum to actual cost"}
	}
	return nil
}

// Validate enforces the three-way scope exclusivity invariant: global
// carries neither reference, program carries exactly a program, project
// carries exactly a project. Referential existence is checked separately
// by the access layer.
func (s *ScopeAssignment) Validate() error {
	switch s.ScopeType {
	case ScopeGlobal:
		if s.ProgramID != nil || s.ProjectID != nil {
			return &ValidationError{Entity: TypeScopeAssignment, Field: "scope_type", Message: "global scope must not reference a program or project"}
		}
	case ScopeProgram:
		if s.ProgramID == nil || *s.ProgramID == "" {
			return &ValidationError{Entity: TypeScopeAssignment, Field: "program_id", Message: "program scope requires a program"}
		}
		if s.ProjectID != nil {
			return &ValidationError{Entity: TypeScopeAssignment, Field: "project_id", Message: "program scope must not reference a project"}
		}
	case ScopeProject:
		if s.ProjectID == nil || *s.ProjectID == "" {
			return &ValidationError{Entity: TypeScopeAssignment, Field: "project_id", Message: "project scope requires a project"}
		}
		if s.ProgramID != nil {
			return &ValidationError{Entity: TypeScopeAssignment, Field: "program_id", Message: "project scope must not reference a program"}
		}
	default:
		return &ValidationError{Entity: TypeScopeAssignment, Field: "scope_type", Message: fmt.Sprintf("unknown scope type %q", s.ScopeType)}
	}
	return nil
}

// Validate checks a user role names a known role type.
func (r *UserRole) Validate() error {
	if !ValidRoleType(r.RoleType) {
		return &ValidationError{Entity: TypeUserRole, Field: "role_type", Message: fmt.Sprintf("unknown role type %q", r.RoleType)}
	}
	return nil
}

// Validate checks a rate row: start date well formed and, when closed, end
// date not before start.
func (r *Rate) Validate() error {
	if err := ValidateDate(r.StartDate); err != nil {
		return &ValidationError{Entity: TypeRate, Field: "start_date", Message: err.Error()}
	}
	if r.CentsPerHour < 0 {
		return &ValidationError{Entity: TypeRate, Field: "cents_per_hour", Message: "must not be negative"}
	}
	if r.EndDate != nil {
		if err := ValidateDate(*r.EndDate); err != nil {
			return &ValidationError{Entity: TypeRate, Field: "end_date", Message: err.Error()}
		}
		if *r.EndDate < r.StartDate {
			return &ValidationError{Entity: TypeRate, Field: "end_date", Message: "must not precede start_date"}
		}
	}
	return nil
}

// Validate checks a resource's kind/worker pairing: labor resources
// reference a worker, non-labor resources do not.
func (r *Resource) Validate() error {
	switch r.Kind {
	case ResourceLabor:
		if r.WorkerID == nil || *r.WorkerID == "" {
			return &ValidationError{Entity: TypeResource, Field: "worker_id", Message: "labor resource requires a worker"}
		}
	case ResourceNonLabor:
		if r.WorkerID != nil {
			return &ValidationError{Entity: TypeResource, Field: "worker_id", Message: "non-labor resource must not reference a worker"}
		}
	default:
		return &ValidationError{Entity: TypeResource, Field: "kind", Message: fmt.Sprintf("unknown resource kind %q", r.Kind)}
	}
	return nil
}
