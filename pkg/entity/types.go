package entity

import "time"

// Type identifies a user-editable entity kind. The set is closed so that
// dispatch over entity kinds is exhaustive and adding one is a
// compile-time-visible change.
type Type string

const (
	TypePortfolio          Type = "portfolio"
	TypeProgram            Type = "program"
	TypeProject            Type = "project"
	TypeProjectPhase       Type = "project_phase"
	TypeResource           Type = "resource"
	TypeWorkerType         Type = "worker_type"
	TypeWorker             Type = "worker"
	TypeRate               Type = "rate"
	TypeResourceAssignment Type = "resource_assignment"
	TypeActual             Type = "actual"
	TypeUser               Type = "user"
	TypeUserRole           Type = "user_role"
	TypeScopeAssignment    Type = "scope_assignment"
)

// Types returns every user-editable entity kind.
func Types() []Type {
	return []Type{
		TypePortfolio, TypeProgram, TypeProject, TypeProjectPhase,
		TypeResource, TypeWorkerType, TypeWorker, TypeRate,
		TypeResourceAssignment, TypeActual,
		TypeUser, TypeUserRole, TypeScopeAssignment,
	}
}

// RoleType is one of the closed set of roles a user may hold.
type RoleType string

const (
	RoleAdmin           RoleType = "admin"
	RoleProgramManager  RoleType = "program_manager"
	RoleProjectManager  RoleType = "project_manager"
	RoleFinanceManager  RoleType = "finance_manager"
	RoleResourceManager RoleType = "resource_manager"
	RoleViewer          RoleType = "viewer"
)

// ValidRoleType reports whether r names a known role.
func ValidRoleType(r RoleType) bool {
	switch r {
	case RoleAdmin, RoleProgramManager, RoleProjectManager,
		RoleFinanceManager, RoleResourceManager, RoleViewer:
		return true
	}
	return false
}

// ScopeType is the level at which a scope assignment grants access.
type ScopeType string

const (
	ScopeGlobal  ScopeType = "global"
	ScopeProgram ScopeType = "program"
	ScopeProject ScopeType = "project"
)

// ResourceKind distinguishes labor from non-labor resources. Only labor
// resources participate in allocation-capacity validation.
type ResourceKind string

const (
	ResourceLabor    ResourceKind = "labor"
	ResourceNonLabor ResourceKind = "non_labor"
)

// Portfolio is the top of the ownership tree.
type Portfolio struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Program groups projects under a portfolio.
type Program struct {
	ID          string    `json:"id"`
	PortfolioID string    `json:"portfolio_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Project owns phases, resource assignments, and actuals.
type Project struct {
	ID          string    `json:"id"`
	ProgramID   string    `json:"program_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectPhase is a user-defined timeline segment of a project.
type ProjectPhase struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Version   int64  `json:"version"`
}

// WorkerType owns workers and the temporal rate history for that type.
type WorkerType struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// Worker is a person tracked by an external worker identifier. The
// external ID is the key actuals are recorded against.
type Worker struct {
	ID           string `json:"id"`
	WorkerTypeID string `json:"worker_type_id"`
	ExternalID   string `json:"external_id"`
	Name         string `json:"name"`
	Version      int64  `json:"version"`
}

// Rate is one row of a worker type's rate history. EndDate nil means the
// rate is current; at most one open-ended row exists per type.
type Rate struct {
	ID           string  `json:"id"`
	WorkerTypeID string  `json:"worker_type_id"`
	CentsPerHour int64   `json:"cents_per_hour"`
	StartDate    string  `json:"start_date"`
	EndDate      *string `json:"end_date,omitempty"`
	Version      int64   `json:"version"`
}

// Resource is a labor or non-labor resource assignable to projects. Labor
// resources reference a worker.
type Resource struct {
	ID       string       `json:"id"`
	Kind     ResourceKind `json:"kind"`
	WorkerID *string      `json:"worker_id,omitempty"`
	Name     string       `json:"name"`
	Version  int64        `json:"version"`
}

// ResourceAssignment commits a resource to a project on a date with a
// capital/expense cost split. The split is forecast commitment, not
// necessarily full-day allocation.
type ResourceAssignment struct {
	ID                string  `json:"id"`
	ResourceID        string  `json:"resource_id"`
	ProjectID         string  `json:"project_id"`
	AssignmentDate    string  `json:"assignment_date"`
	CapitalPercentage Percent `json:"capital_percentage"`
	ExpensePercentage Percent `json:"expense_percentage"`
	Version           int64   `json:"version"`
}

// Actual records work actually performed against a project by an external
// worker on a date.
type Actual struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"project_id"`
	ExternalWorkerID     string  `json:"external_worker_id"`
	ActualDate           string  `json:"actual_date"`
	AllocationPercentage Percent `json:"allocation_percentage"`
	ActualCostCents      int64   `json:"actual_cost_cents"`
	CapitalAmountCents   int64   `json:"capital_amount_cents"`
	ExpenseAmountCents   int64   `json:"expense_amount_cents"`
	Version              int64   `json:"version"`
}

// User is a credential identity.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsActive    bool   `json:"is_active"`
	Version     int64  `json:"version"`
}

// UserRole grants a user one role; a user may hold several concurrently
// active roles.
type UserRole struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	RoleType RoleType `json:"role_type"`
	IsActive bool     `json:"is_active"`
	Version  int64    `json:"version"`
}

// ScopeAssignment binds a user role to a scope. Exactly one of the
// reference fields is set depending on ScopeType: global carries neither,
// program carries ProgramID, project carries ProjectID.
type ScopeAssignment struct {
	ID         string    `json:"id"`
	UserRoleID string    `json:"user_role_id"`
	ScopeType  ScopeType `json:"scope_type"`
	ProgramID  *string   `json:"program_id,omitempty"`
	ProjectID  *string   `json:"project_id,omitempty"`
	IsActive   bool      `json:"is_active"`
	Version    int64     `json:"version"`
}
