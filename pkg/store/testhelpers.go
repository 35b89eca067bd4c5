package store

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testSchema mirrors the PostgreSQL migrations in SQLite dialect for unit
// tests. Kept in sync with GetMigrations by hand; the integration suite
// runs the real migrations against PostgreSQL.
const testSchema = `
	CREATE TABLE portfolios (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE programs (
		id TEXT PRIMARY KEY,
		portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
		name TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE projects (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id),
		name TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE project_phases (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE worker_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE workers (
		id TEXT PRIMARY KEY,
		worker_type_id TEXT NOT NULL REFERENCES worker_types(id),
		external_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE rates (
		id TEXT PRIMARY KEY,
		worker_type_id TEXT NOT NULL REFERENCES worker_types(id),
		cents_per_hour INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE resources (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		worker_id TEXT REFERENCES workers(id),
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE resource_assignments (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		assignment_date TEXT NOT NULL,
		capital_percentage REAL NOT NULL,
		expense_percentage REAL NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE actuals (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		external_worker_id TEXT NOT NULL,
		actual_date TEXT NOT NULL,
		allocation_percentage REAL NOT NULL,
		actual_cost_cents INTEGER NOT NULL,
		capital_amount_cents INTEGER NOT NULL,
		expense_amount_cents INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE user_roles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_type TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE scope_assignments (
		id TEXT PRIMARY KEY,
		user_role_id TEXT NOT NULL REFERENCES user_roles(id) ON DELETE CASCADE,
		scope_type TEXT NOT NULL,
		program_id TEXT,
		project_id TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		version INTEGER NOT NULL DEFAULT 1
	);
`

var testDBCounter atomic.Int64

// OpenTestDB opens a fresh in-memory SQLite database with the full schema.
// The handle is closed automatically when the test finishes.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// In-memory SQLite exists per connection; more than one would see
	// different databases.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(testSchema); err != nil {
		db.Close()
		t.Fatalf("Failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// OpenSharedTestDB opens two independent handles over one shared in-memory
// database. Session-isolation tests need two real connections to the same
// backing store, not one object mutated twice.
func OpenSharedTestDB(t *testing.T) (*sql.DB, *sql.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:tally_test_%d?mode=memory&cache=shared&_foreign_keys=on&_busy_timeout=5000",
		testDBCounter.Add(1))

	open := func() *sql.DB {
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			t.Fatalf("Failed to open shared test database: %v", err)
		}
		db.SetMaxOpenConns(1)
		// Hold one connection open so the shared in-memory database
		// survives between statements.
		if err := db.Ping(); err != nil {
			t.Fatalf("Failed to ping shared test database: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return db
	}

	first := open()
	if _, err := first.Exec(testSchema); err != nil {
		t.Fatalf("Failed to create shared test schema: %v", err)
	}
	second := open()
	return first, second
}
