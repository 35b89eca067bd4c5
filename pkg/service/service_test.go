package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyworks/tally/pkg/access"
	"github.com/tallyworks/tally/pkg/allocation"
	"github.com/tallyworks/tally/pkg/entity"
	"github.com/tallyworks/tally/pkg/store"
)

type fixture struct {
	db      *sql.DB
	service *Service

	portfolio  string
	program    string
	project    string
	workerType string
	resource   string
	workerKey  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.OpenTestDB(t)

	st := store.NewStore(db)
	resolver := access.NewResolver(access.NewStore(db))
	validator := allocation.NewValidator(db)

	f := &fixture{
		db: db,
		service: New(Config{
			Store:     st,
			Resolver:  resolver,
			Validator: validator,
		}),
		workerKey: "W1",
	}

	f.portfolio = uuid.New().String()
	f.program = uuid.New().String()
	f.project = uuid.New().String()
	f.workerType = uuid.New().String()
	worker := uuid.New().String()
	f.resource = uuid.New().String()

	f.exec(t, `INSERT INTO portfolios (id, name) VALUES ($1, 'p')`, f.portfolio)
	f.exec(t, `INSERT INTO programs (id, portfolio_id, name) VALUES ($1, $2, 'pr')`, f.program, f.portfolio)
	f.exec(t, `INSERT INTO projects (id, program_id, name) VALUES ($1, $2, 'pj')`, f.project, f.program)
	f.exec(t, `INSERT INTO worker_types (id, name) VALUES ($1, 'engineer')`, f.workerType)
	f.exec(t, `INSERT INTO workers (id, worker_type_id, external_id, name) VALUES ($1, $2, $3, 'Avery')`,
		worker, f.workerType, f.workerKey)
	f.exec(t, `INSERT INTO resources (id, kind, worker_id, name) VALUES ($1, 'labor', $2, 'Avery')`,
		f.resource, worker)
	return f
}

func (f *fixture) exec(t *testing.T, query string, args ...interface{}) {
	t.Helper()
	if _, err := f.db.Exec(query, args...); err != nil {
		t.Fatalf("Failed to execute %q: %v", query, err)
	}
}

func (f *fixture) addUser(t *testing.T, scope entity.ScopeType, programID, projectID *string) string {
	t.Helper()
	userID := uuid.New().String()
	roleID := uuid.New().String()
	f.exec(t, `INSERT INTO users (id, email, display_name, is_active) VALUES ($1, $2, 'u', 1)`,
		userID, userID[:8]+"@example.com")
	f.exec(t, `INSERT INTO user_roles (id, user_id, role_type, is_active) VALUES ($1, $2, 'program_manager', 1)`,
		roleID, userID)
	f.exec(t, `INSERT INTO scope_assignments (id, user_role_id, scope_type, program_id, project_id, is_active)
		VALUES ($1, $2, $3, $4, $5, 1)`,
		uuid.New().String(), roleID, string(scope), programID, projectID)
	return userID
}

func (f *fixture) addAssignment(t *testing.T, date string, capital, expense float64) string {
	id := uuid.New().String()
	f.exec(t, `INSERT INTO resource_assignments (id, resource_id, project_id, assignment_date, capital_percentage, expense_percentage)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, f.resource, f.project, date, capital, expense)
	return id
}

func TestAuthorizeAndUpdateHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, entity.ScopeProgram, &f.program, nil)

	updated, err := f.service.AuthorizeAndUpdate(ctx, user, entity.TypeProject, f.project, 1,
		map[string]interface{}{"name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated["name"])
	assert.Equal(t, int64(2), updated.Version())
}

func TestAuthorizeAndUpdateStaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, entity.ScopeProgram, &f.program, nil)

	_, err := f.service.AuthorizeAndUpdate(ctx, user, entity.TypeProject, f.project, 1,
		map[string]interface{}{"name": "first"})
	require.NoError(t, err)

	// A second writer still holding version 1 loses; the winner's state
	// rides back inside the error.
	_, err = f.service.AuthorizeAndUpdate(ctx, user, entity.TypeProject, f.project, 1,
		map[string]interface{}{"name": "second"})
	require.Error(t, err)
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, entity.TypeProject, conflict.EntityType)
	assert.Equal(t, f.project, conflict.EntityID)
	assert.Equal(t, "first", conflict.CurrentState["name"])
	assert.Equal(t, int64(2), conflict.CurrentState.Version())
}

func TestAuthorizeAndUpdateDeniedOutsideScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherProgram := uuid.New().String()
	f.exec(t, `INSERT INTO programs (id, portfolio_id, name) VALUES ($1, $2, 'other')`, otherProgram, f.portfolio)
	user := f.addUser(t, entity.ScopeProgram, &otherProgram, nil)

	_, err := f.service.AuthorizeAndUpdate(ctx, user, entity.TypeProject, f.project, 1,
		map[string]interface{}{"name": "nope"})
	require.Error(t, err)
	assert.True(t, access.IsDenied(err))

	// The denied write must not have touched the row.
	row, err := store.NewStore(f.db).Get(ctx, entity.TypeProject, f.project)
	require.NoError(t, err)
	assert.Equal(t, "pj", row["name"])
	assert.Equal(t, int64(1), row.Version())
}

func TestMalformedIDMapsToNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, entity.ScopeGlobal, nil, nil)

	_, err := f.service.AuthorizeRead(ctx, user, entity.TypeProject, "not-a-uuid")
	assert.True(t, store.IsNotFound(err))

	_, err = f.service.AuthorizeAndUpdate(ctx, user, entity.TypeProject, "not-a-uuid", 1,
		map[string]interface{}{"name": "x"})
	assert.True(t, store.IsNotFound(err))

	err = f.service.AuthorizeAndDelete(ctx, user, entity.TypeProject, "not-a-uuid")
	assert.True(t, store.IsNotFound(err))
}

func TestCreateAssignmentRejectsOverCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, entity.ScopeProgram, &f.program, nil)
	date := "2024-06-01"

	f.addAssignment(t, date, 70.00, 0.00)

	_, err := f.service.CreateAssignment(ctx, user, map[string]interface{}{
		"resource_id":        f.resource,
		"project_id":         f.project,
		"assignment_date":    date,
		"capital_percentage": 40.00,
		"expense_percentage": 0.00,
	})
	require.Error(t, err)
	var ce *allocation.CapacityExceededError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "110.00", ce.ResultingTotal.String())
	assert.Equal(t, "10.00", ce.Excess.String())

	// The rejected row must not exist.
	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM resource_assignments WHERE assignment_date = $1`, date).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCreateAssignmentFillsDayExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, entity.ScopeProgram, &f.program, nil)
	date := "2024-06-01"

	f.addAssignment(t, date, 70.00, 0.00)

	row, err := f.service.CreateAssignment(ctx, user, map[string]interface{}{
		"resource_id":        f.resource,
		"project_id":         f.project,
		"assignment_date":    date,
		"capital_percentage": 20.00,
		"expense_percentage": 10.00,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Version())
}

func TestUpdateRevalidatesMergedAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, entity.ScopeProgram, &f.program, nil)
	date := "2024-06-01"

	target := f.addAssignment(t, date, 50.00, 10.00)
	f.addAssignment(t, date, 30.00, 0.00)

	// Raising the 60% record to 70% fits because its own prior
	// contribution is excluded: 30 + 70 = 100.
	updated, err := f.service.AuthorizeAndUpdate(ctx, user, entity.TypeResourceAssignment, target, 1,
		map[string]interface{}{"capital_percentage": 70.00, "expense_percentage": 0.00})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version())

	// Pushing it past the remaining headroom fails before any write.
	_, err = f.service.AuthorizeAndUpdate(ctx, user, entity.TypeResourceAssignment, target, 2,
		map[string]interface{}{"capital_percentage": 71.00, "expense_percentage": 0.00})
	require.Error(t, err)
	assert.True(t, allocation.IsCapacityExceeded(err))

	row, err := store.NewStore(f.db).Get(ctx, entity.TypeResourceAssignment, target)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.Version())
}

func TestUpdateRaisesShareOneDailyBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, entity.ScopeProgram, &f.program, nil)
	date := "2024-06-01"

	first := f.addAssignment(t, date, 40.00, 0.00)
	second := f.addAssignment(t, date, 40.00, 0.00)

	// Raising the first row to 60 fills the day: 60 + 40 = 100.
	_, err := f.service.AuthorizeAndUpdate(ctx, user, entity.TypeResourceAssignment, first, 1,
		map[string]interface{}{"capital_percentage": 60.00})
	require.NoError(t, err)

	// The same raise on the second row must see the first one's committed
	// total, not the 80% the day held when both updates were prepared.
	_, err = f.service.AuthorizeAndUpdate(ctx, user, entity.TypeResourceAssignment, second, 1,
		map[string]interface{}{"capital_percentage": 60.00})
	require.Error(t, err)
	var ce *allocation.CapacityExceededError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "120.00", ce.ResultingTotal.String())

	row, err := store.NewStore(f.db).Get(ctx, entity.TypeResourceAssignment, second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Version())
	assert.Equal(t, 40.00, row["capital_percentage"])
}

func TestCreateRejectsInvalidReferenceData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, entity.ScopeGlobal, nil, nil)

	// A rate whose window closes before it opens never persists.
	_, err := f.service.AuthorizeAndCreate(ctx, admin, entity.TypeRate, map[string]interface{}{
		"worker_type_id": f.workerType,
		"cents_per_hour": 12500,
		"start_date":     "2024-06-01",
		"end_date":       "2024-05-01",
	})
	require.Error(t, err)
	assert.True(t, entity.IsValidation(err))

	_, err = f.service.AuthorizeAndCreate(ctx, admin, entity.TypeRate, map[string]interface{}{
		"worker_type_id": f.workerType,
		"cents_per_hour": -100,
		"start_date":     "2024-06-01",
	})
	require.Error(t, err)
	assert.True(t, entity.IsValidation(err))

	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM rates`).Scan(&count))
	assert.Equal(t, 0, count)

	// Non-labor resources must not reference a worker.
	_, err = f.service.AuthorizeAndCreate(ctx, admin, entity.TypeResource, map[string]interface{}{
		"kind":      "non_labor",
		"worker_id": uuid.New().String(),
		"name":      "license pool",
	})
	require.Error(t, err)
	assert.True(t, entity.IsValidation(err))

	// Unknown role types are rejected before the insert.
	_, err = f.service.AuthorizeAndCreate(ctx, admin, entity.TypeUserRole, map[string]interface{}{
		"user_id":   admin,
		"role_type": "portfolio_manager",
		"is_active": true,
	})
	require.Error(t, err)
	assert.True(t, entity.IsValidation(err))
}

func TestUpdateRevalidatesMergedRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, entity.ScopeGlobal, nil, nil)

	rate := uuid.New().String()
	f.exec(t, `INSERT INTO rates (id, worker_type_id, cents_per_hour, start_date, end_date)
		VALUES ($1, $2, 12500, '2024-06-01', '2024-12-31')`, rate, f.workerType)

	// Moving the start past the existing end makes the merged row invalid
	// even though the change is well formed on its own.
	_, err := f.service.AuthorizeAndUpdate(ctx, admin, entity.TypeRate, rate, 1,
		map[string]interface{}{"start_date": "2025-01-01"})
	require.Error(t, err)
	assert.True(t, entity.IsValidation(err))

	row, err := store.NewStore(f.db).Get(ctx, entity.TypeRate, rate)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", row["start_date"])
	assert.Equal(t, int64(1), row.Version())
}

func TestCreateActualValidatesAmountSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, entity.ScopeProgram, &f.program, nil)

	_, err := f.service.CreateActual(ctx, user, map[string]interface{}{
		"project_id":            f.project,
		"external_worker_id":    f.workerKey,
		"actual_date":           "2024-06-01",
		"allocation_percentage": 50.00,
		"actual_cost_cents":     10000,
		"capital_amount_cents":  7000,
		"expense_amount_cents":  2000,
	})
	require.Error(t, err)
	assert.True(t, entity.IsValidation(err))

	row, err := f.service.CreateActual(ctx, user, map[string]interface{}{
		"project_id":            f.project,
		"external_worker_id":    f.workerKey,
		"actual_date":           "2024-06-01",
		"allocation_percentage": 50.00,
		"actual_cost_cents":     10000,
		"capital_amount_cents":  7000,
		"expense_amount_cents":  3000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Version())
}

func TestFilterListByScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherProgram := uuid.New().String()
	otherProject := uuid.New().String()
	f.exec(t, `INSERT INTO programs (id, portfolio_id, name) VALUES ($1, $2, 'other')`, otherProgram, f.portfolio)
	f.exec(t, `INSERT INTO projects (id, program_id, name) VALUES ($1, $2, 'outside')`, otherProject, otherProgram)

	scoped := f.addUser(t, entity.ScopeProgram, &f.program, nil)
	admin := f.addUser(t, entity.ScopeGlobal, nil, nil)

	st := store.NewStore(f.db)
	projects, err := st.List(ctx, entity.TypeProject, "", nil)
	require.NoError(t, err)
	require.Len(t, projects, 2)

	visible, err := f.service.FilterListByScope(ctx, scoped, entity.TypeProject, projects)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, f.project, visible[0].ID())

	all, err := f.service.FilterListByScope(ctx, admin, entity.TypeProject, projects)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// User administration rows are invisible without a global grant.
	users, err := st.List(ctx, entity.TypeUser, "", nil)
	require.NoError(t, err)
	none, err := f.service.FilterListByScope(ctx, scoped, entity.TypeUser, users)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestValidateAllocationBatchThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := "2024-06-01"

	f.addAssignment(t, date, 41.00, 0.00)

	conflicts, err := f.service.ValidateAllocationBatch(ctx, []allocation.Record{
		{WorkerKey: f.workerKey, Date: date, Percentage: entity.PercentFromFloat(20.00)},
		{WorkerKey: f.workerKey, Date: date, Percentage: entity.PercentFromFloat(20.00)},
		{WorkerKey: f.workerKey, Date: date, Percentage: entity.PercentFromFloat(20.00)},
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, entity.PercentFromFloat(1.00), conflicts[0].Excess)
}

func TestOverAllocationReportThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addAssignment(t, "2024-06-01", 70.00, 0.00)
	f.addAssignment(t, "2024-06-01", 40.00, 5.00)
	f.addAssignment(t, "2024-06-02", 50.00, 0.00)

	over, err := f.service.OverAllocationReport(ctx, "2024-06-01", "2024-06-30")
	require.NoError(t, err)
	require.Len(t, over, 1)
	assert.Equal(t, "2024-06-01", over[0].Date)
	assert.Equal(t, "115.00", over[0].Total.String())
}
