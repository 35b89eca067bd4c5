package access

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyworks/tally/pkg/entity"
	"github.com/tallyworks/tally/pkg/store"
)

type fixture struct {
	db       *sql.DB
	store    *Store
	resolver *Resolver
	guard    *Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.OpenTestDB(t)
	s := NewStore(db)
	r := NewResolver(s)
	return &fixture{db: db, store: s, resolver: r, guard: NewGuard(r)}
}

func (f *fixture) exec(t *testing.T, query string, args ...interface{}) {
	t.Helper()
	if _, err := f.db.Exec(query, args...); err != nil {
		t.Fatalf("Failed to execute %q: %v", query, err)
	}
}

func (f *fixture) addPortfolio(t *testing.T) string {
	id := uuid.New().String()
	f.exec(t, `INSERT INTO portfolios (id, name) VALUES ($1, $2)`, id, "portfolio "+id[:8])
	return id
}

func (f *fixture) addProgram(t *testing.T, portfolioID string) string {
	id := uuid.New().String()
	f.exec(t, `INSERT INTO programs (id, portfolio_id, name) VALUES ($1, $2, $3)`,
		id, portfolioID, "program "+id[:8])
	return id
}

func (f *fixture) addProject(t *testing.T, programID string) string {
	id := uuid.New().String()
	f.exec(t, `INSERT INTO projects (id, program_id, name) VALUES ($1, $2, $3)`,
		id, programID, "project "+id[:8])
	return id
}

func (f *fixture) addUser(t *testing.T) string {
	id := uuid.New().String()
	f.exec(t, `INSERT INTO users (id, email, display_name, is_active) VALUES ($1, $2, $3, 1)`,
		id, fmt.Sprintf("%s@example.com", id[:8]), "user "+id[:8])
	return id
}

func (f *fixture) addRole(t *testing.T, userID string, role entity.RoleType, active bool) string {
	id := uuid.New().String()
	f.exec(t, `INSERT INTO user_roles (id, user_id, role_type, is_active) VALUES ($1, $2, $3, $4)`,
		id, userID, string(role), active)
	return id
}

func (f *fixture) addScope(t *testing.T, roleID string, scope entity.ScopeType, programID, projectID *string, active bool) string {
	id := uuid.New().String()
	f.exec(t, `INSERT INTO scope_assignments (id, user_role_id, scope_type, program_id, project_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, roleID, string(scope), programID, projectID, active)
	return id
}

func strptr(s string) *string { return &s }

func TestProgramScopeCoversCurrentAndFutureChildProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)
	other := f.addProgram(t, portfolio)
	existing := f.addProject(t, program)
	outside := f.addProject(t, other)

	user := f.addUser(t)
	role := f.addRole(t, user, entity.RoleProgramManager, true)
	f.addScope(t, role, entity.ScopeProgram, strptr(program), nil, true)

	ok, err := f.resolver.CanAccessProgram(ctx, user, program)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.CanAccessProject(ctx, user, existing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.CanAccessProject(ctx, user, outside)
	require.NoError(t, err)
	assert.False(t, ok, "Project in another program must not be accessible")

	// A project added after the grant is covered because membership is
	// resolved from the hierarchy at request time.
	later := f.addProject(t, program)
	ok, err = f.resolver.CanAccessProject(ctx, user, later)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProjectScopeGrantsParentProgramVisibilityOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)
	granted := f.addProject(t, program)
	sibling := f.addProject(t, program)

	user := f.addUser(t)
	role := f.addRole(t, user, entity.RoleProjectManager, true)
	f.addScope(t, role, entity.ScopeProject, nil, strptr(granted), true)

	ok, err := f.resolver.CanAccessProject(ctx, user, granted)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.CanAccessProject(ctx, user, sibling)
	require.NoError(t, err)
	assert.False(t, ok, "A project grant must not extend to sibling projects")

	// The parent program is visible so the project can be shown in context.
	ok, err = f.resolver.CanAccessProgram(ctx, user, program)
	require.NoError(t, err)
	assert.True(t, ok)

	// Visibility does not extend to writes.
	err = f.guard.AuthorizeProgramWrite(ctx, user, program)
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}

func TestProgramWriteRequiresProgramOrGlobalScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)

	manager := f.addUser(t)
	role := f.addRole(t, manager, entity.RoleProgramManager, true)
	f.addScope(t, role, entity.ScopeProgram, strptr(program), nil, true)
	require.NoError(t, f.guard.AuthorizeProgramWrite(ctx, manager, program))

	admin := f.addUser(t)
	adminRole := f.addRole(t, admin, entity.RoleAdmin, true)
	f.addScope(t, adminRole, entity.ScopeGlobal, nil, nil, true)
	require.NoError(t, f.guard.AuthorizeProgramWrite(ctx, admin, program))
}

func TestGlobalScopeCoversEverythingIncludingNewEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)
	project := f.addProject(t, program)

	user := f.addUser(t)
	role := f.addRole(t, user, entity.RoleAdmin, true)
	f.addScope(t, role, entity.ScopeGlobal, nil, nil, true)

	global, err := f.resolver.HasGlobalScope(ctx, user)
	require.NoError(t, err)
	assert.True(t, global)

	programs, err := f.resolver.AccessiblePrograms(ctx, user)
	require.NoError(t, err)
	assert.True(t, programs[program])

	projects, err := f.resolver.AccessibleProjects(ctx, user)
	require.NoError(t, err)
	assert.True(t, projects[project])

	// Entities created after the grant are still covered.
	laterProgram := f.addProgram(t, portfolio)
	laterProject := f.addProject(t, laterProgram)

	ok, err := f.resolver.CanAccessProgram(ctx, user, laterProgram)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.CanAccessProject(ctx, user, laterProject)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInactiveRoleAndScopeAreIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)

	user := f.addUser(t)

	inactiveRole := f.addRole(t, user, entity.RoleProgramManager, false)
	f.addScope(t, inactiveRole, entity.ScopeProgram, strptr(program), nil, true)

	activeRole := f.addRole(t, user, entity.RoleViewer, true)
	f.addScope(t, activeRole, entity.ScopeProgram, strptr(program), nil, false)

	ok, err := f.resolver.CanAccessProgram(ctx, user, program)
	require.NoError(t, err)
	assert.False(t, ok, "Grants through inactive roles or inactive scopes must not count")
}

func TestUserWithNoGrantsSeesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)
	project := f.addProject(t, program)

	user := f.addUser(t)

	programs, err := f.resolver.AccessiblePrograms(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, programs)

	projects, err := f.resolver.AccessibleProjects(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, projects)

	err = f.guard.AuthorizeProject(ctx, user, project)
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}

func TestGuardDenialMessageIsUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)
	project := f.addProject(t, program)
	user := f.addUser(t)

	err := f.guard.AuthorizeProgram(ctx, user, program)
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("access denied to program %s", program), err.Error())

	// A denial for a nonexistent id reads identically to one for a real
	// entity the user cannot see.
	missing := uuid.New().String()
	err = f.guard.AuthorizeProject(ctx, user, missing)
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("access denied to project %s", missing), err.Error())

	err = f.guard.AuthorizeProject(ctx, user, project)
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("access denied to project %s", project), err.Error())
}

func TestGuardAuthorizeGlobal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := f.addUser(t)
	role := f.addRole(t, admin, entity.RoleAdmin, true)
	f.addScope(t, role, entity.ScopeGlobal, nil, nil, true)

	limited := f.addUser(t)
	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)
	limitedRole := f.addRole(t, limited, entity.RoleProgramManager, true)
	f.addScope(t, limitedRole, entity.ScopeProgram, strptr(program), nil, true)

	workerID := uuid.New().String()
	require.NoError(t, f.guard.AuthorizeGlobal(ctx, admin, entity.TypeWorker, workerID))

	err := f.guard.AuthorizeGlobal(ctx, limited, entity.TypeWorker, workerID)
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}

func TestFilterProjectsPreservesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	mine := f.addProgram(t, portfolio)
	theirs := f.addProgram(t, portfolio)

	p1 := f.addProject(t, mine)
	p2 := f.addProject(t, theirs)
	p3 := f.addProject(t, mine)

	user := f.addUser(t)
	role := f.addRole(t, user, entity.RoleProgramManager, true)
	f.addScope(t, role, entity.ScopeProgram, strptr(mine), nil, true)

	filtered, err := f.guard.FilterProjects(ctx, user, []string{p1, p2, p3})
	require.NoError(t, err)
	assert.Equal(t, []string{p1, p3}, filtered)

	programs, err := f.guard.FilterPrograms(ctx, user, []string{theirs, mine})
	require.NoError(t, err)
	assert.Equal(t, []string{mine}, programs)
}

func TestRequestScopeMemoIsPerUser(t *testing.T) {
	f := newFixture(t)

	user := f.addUser(t)
	rs := NewRequestScope(f.resolver, user)
	ctx := WithRequestScope(context.Background(), rs)

	assert.Same(t, rs, RequestScopeFrom(ctx, user))
	assert.Nil(t, RequestScopeFrom(ctx, uuid.New().String()),
		"A memo for one user must never be served to another")
	assert.Nil(t, RequestScopeFrom(context.Background(), user))
}

func TestValidateScopeAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	portfolio := f.addPortfolio(t)
	program := f.addProgram(t, portfolio)
	project := f.addProject(t, program)
	user := f.addUser(t)
	role := f.addRole(t, user, entity.RoleViewer, true)

	cases := []struct {
		name    string
		sa      entity.ScopeAssignment
		wantErr string
	}{
		{
			name: "valid global",
			sa:   entity.ScopeAssignment{UserRoleID: role, ScopeType: entity.ScopeGlobal, IsActive: true},
		},
		{
			name: "valid program",
			sa:   entity.ScopeAssignment{UserRoleID: role, ScopeType: entity.ScopeProgram, ProgramID: strptr(program), IsActive: true},
		},
		{
			name: "valid project",
			sa:   entity.ScopeAssignment{UserRoleID: role, ScopeType: entity.ScopeProject, ProjectID: strptr(project), IsActive: true},
		},
		{
			name:    "global with program id",
			sa:      entity.ScopeAssignment{UserRoleID: role, ScopeType: entity.ScopeGlobal, ProgramID: strptr(program)},
			wantErr: "must not reference",
		},
		{
			name:    "program scope missing program id",
			sa:      entity.ScopeAssignment{UserRoleID: role, ScopeType: entity.ScopeProgram},
			wantErr: "program_id",
		},
		{
			name:    "project scope with both ids",
			sa:      entity.ScopeAssignment{UserRoleID: role, ScopeType: entity.ScopeProject, ProgramID: strptr(program), ProjectID: strptr(project)},
			wantErr: "program_id",
		},
		{
			name:    "program scope pointing at missing program",
			sa:      entity.ScopeAssignment{UserRoleID: role, ScopeType: entity.ScopeProgram, ProgramID: strptr(uuid.New().String())},
			wantErr: "does not exist",
		},
		{
			name:    "project scope pointing at missing project",
			sa:      entity.ScopeAssignment{UserRoleID: role, ScopeType: entity.ScopeProject, ProjectID: strptr(uuid.New().String())},
			wantErr: "does not exist",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sa := tc.sa
			err := f.store.ValidateScopeAssignment(ctx, &sa)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			var verr *entity.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}
