package store

import (
	"fmt"

	"github.com/tallyworks/tally/pkg/entity"
)

// tableSpec describes how one entity kind is persisted.
type tableSpec struct {
	table string
	// columns is the full select list, id first, version last.
	columns []string
	// updatable is the subset callers may change through Update.
	updatable map[string]bool
	// timestamps marks tables carrying created_at/updated_at maintained by
	// the store.
	timestamps bool
	// children lists (table, foreign key) pairs that block deletion while
	// rows referencing the parent exist.
	children []childRef
}

type childRef struct {
	table  string
	column string
}

func cols(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var tableSpecs = map[entity.Type]tableSpec{
	entity.TypePortfolio: {
		table:      "portfolios",
		columns:    []string{"id", "name", "description", "created_at", "updated_at", "version"},
		updatable:  cols("name", "description"),
		timestamps: true,
		children:   []childRef{{"programs", "portfolio_id"}},
	},
	entity.TypeProgram: {
		table:      "programs",
		columns:    []string{"id", "portfolio_id", "name", "description", "created_at", "updated_at", "version"},
		updatable:  cols("name", "description"),
		timestamps: true,
		children:   []childRef{{"projects", "program_id"}},
	},
	entity.TypeProject: {
		table:      "projects",
		columns:    []string{"id", "program_id", "name", "description", "created_at", "updated_at", "version"},
		updatable:  cols("program_id", "name", "description"),
		timestamps: true,
	},
	entity.TypeProjectPhase: {
		table:     "project_phases",
		columns:   []string{"id", "project_id", "name", "start_date", "end_date", "version"},
		updatable: cols("name", "start_date", "end_date"),
	},
	entity.TypeWorkerType: {
		table:     "worker_types",
		columns:   []string{"id", "name", "version"},
		updatable: cols("name"),
		children:  []childRef{{"workers", "worker_type_id"}, {"rates", "worker_type_id"}},
	},
	entity.TypeWorker: {
		table:     "workers",
		columns:   []string{"id", "worker_type_id", "external_id", "name", "version"},
		updatable: cols("worker_type_id", "external_id", "name"),
	},
	entity.TypeRate: {
		table:     "rates",
		columns:   []string{"id", "worker_type_id", "cents_per_hour", "start_date", "end_date", "version"},
		updatable: cols("cents_per_hour", "start_date", "end_date"),
	},
	entity.TypeResource: {
		table:     "resources",
		columns:   []string{"id", "kind", "worker_id", "name", "version"},
		updatable: cols("name"),
	},
	entity.TypeResourceAssignment: {
		table:     "resource_assignments",
		columns:   []string{"id", "resource_id", "project_id", "assignment_date", "capital_percentage", "expense_percentage", "version"},
		updatable: cols("assignment_date", "capital_percentage", "expense_percentage"),
	},
	entity.TypeActual: {
		table: "actuals",
		columns: []string{"id", "project_id", "external_worker_id", "actual_date", "allocation_percentage",
			"actual_cost_cents", "capital_amount_cents", "expense_amount_cents", "version"},
		updatable: cols("actual_date", "allocation_percentage", "actual_cost_cents", "capital_amount_cents", "expense_amount_cents"),
	},
	entity.TypeUser: {
		table:     "users",
		columns:   []string{"id", "email", "display_name", "is_active", "version"},
		updatable: cols("email", "display_name", "is_active"),
	},
	entity.TypeUserRole: {
		table:     "user_roles",
		columns:   []string{"id", "user_id", "role_type", "is_active", "version"},
		updatable: cols("is_active"),
	},
	entity.TypeScopeAssignment: {
		table:     "scope_assignments",
		columns:   []string{"id", "user_role_id", "scope_type", "program_id", "project_id", "is_active", "version"},
		updatable: cols("is_active"),
	},
}

func specFor(t entity.Type) (tableSpec, error) {
	spec, ok := tableSpecs[t]
	if !ok {
		return tableSpec{}, fmt.Errorf("unknown entity type %q", t)
	}
	return spec, nil
}

// TableFor returns the table name backing an entity type.
func TableFor(t entity.Type) (string, error) {
	spec, err := specFor(t)
	if err != nil {
		return "", err
	}
	return spec.table, nil
}
