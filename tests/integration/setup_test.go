//go:build integration

package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tallyworks/tally/pkg/access"
	"github.com/tallyworks/tally/pkg/allocation"
	"github.com/tallyworks/tally/pkg/service"
	"github.com/tallyworks/tally/pkg/store"
)

// setupPostgres starts a PostgreSQL container, runs migrations and returns
// a connected handle with a cleanup function.
func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tally_test"),
		postgres.WithUsername("tally"),
		postgres.WithPassword("tally_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, store.RunMigrations(ctx, db))

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close database: %v", err)
		}
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// env bundles the facade with the seeded hierarchy IDs a test needs.
type env struct {
	db        *sql.DB
	service   *service.Service
	user      string
	program   string
	project   string
	resource  string
	workerKey string
}

func newEnv(t *testing.T, db *sql.DB) *env {
	t.Helper()

	st := store.NewStore(db)
	resolver := access.NewResolver(access.NewStore(db))
	validator := allocation.NewValidator(db)

	e := &env{
		db: db,
		service: service.New(service.Config{
			Store:         st,
			Resolver:      resolver,
			Validator:     validator,
			AdvisoryLocks: true,
		}),
		workerKey: "W-IT-1",
	}

	portfolio := uuid.New().String()
	e.program = uuid.New().String()
	e.project = uuid.New().String()
	workerType := uuid.New().String()
	worker := uuid.New().String()
	e.resource = uuid.New().String()
	e.user = uuid.New().String()
	role := uuid.New().String()

	exec(t, db, `INSERT INTO portfolios (id, name) VALUES ($1, 'p')`, portfolio)
	exec(t, db, `INSERT INTO programs (id, portfolio_id, name) VALUES ($1, $2, 'pr')`, e.program, portfolio)
	exec(t, db, `INSERT INTO projects (id, program_id, name) VALUES ($1, $2, 'pj')`, e.project, e.program)
	exec(t, db, `INSERT INTO worker_types (id, name) VALUES ($1, 'engineer')`, workerType)
	exec(t, db, `INSERT INTO workers (id, worker_type_id, external_id, name) VALUES ($1, $2, $3, 'Avery')`,
		worker, workerType, e.workerKey)
	exec(t, db, `INSERT INTO resources (id, kind, worker_id, name) VALUES ($1, 'labor', $2, 'Avery')`,
		e.resource, worker)
	exec(t, db, `INSERT INTO users (id, email, display_name, is_active) VALUES ($1, 'it@example.com', 'u', true)`, e.user)
	exec(t, db, `INSERT INTO user_roles (id, user_id, role_type, is_active) VALUES ($1, $2, 'program_manager', true)`,
		role, e.user)
	exec(t, db, `INSERT INTO scope_assignments (id, user_role_id, scope_type, is_active) VALUES ($1, $2, 'global', true)`,
		uuid.New().String(), role)

	return e
}

func exec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Failed to execute %q: %v", query, err)
	}
}
