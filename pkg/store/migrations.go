package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one schema change applied in order.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the PostgreSQL schema. Percentages are stored as
// NUMERIC(5,2); dates are ISO-8601 text so lexicographic range scans are
// chronological on every backend.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create portfolio hierarchy tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS portfolios (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS programs (
					id UUID PRIMARY KEY,
					portfolio_id UUID NOT NULL REFERENCES portfolios(id),
					name VARCHAR(255) NOT NULL,
					description TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS projects (
					id UUID PRIMARY KEY,
					program_id UUID NOT NULL REFERENCES programs(id),
					name VARCHAR(255) NOT NULL,
					description TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS project_phases (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					start_date CHAR(10) NOT NULL,
					end_date CHAR(10) NOT NULL,
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE INDEX idx_programs_portfolio_id ON programs(portfolio_id);
				CREATE INDEX idx_projects_program_id ON projects(program_id);
				CREATE INDEX idx_project_phases_project_id ON project_phases(project_id);
			`,
		},
		{
			Version:     2,
			Description: "Create worker and resource tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS worker_types (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS workers (
					id UUID PRIMARY KEY,
					worker_type_id UUID NOT NULL REFERENCES worker_types(id),
					external_id VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS rates (
					id UUID PRIMARY KEY,
					worker_type_id UUID NOT NULL REFERENCES worker_types(id),
					cents_per_hour BIGINT NOT NULL CHECK (cents_per_hour >= 0),
					start_date CHAR(10) NOT NULL,
					end_date CHAR(10),
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS resources (
					id UUID PRIMARY KEY,
					kind VARCHAR(20) NOT NULL CHECK (kind IN ('labor', 'non_labor')),
					worker_id UUID REFERENCES workers(id),
					name VARCHAR(255) NOT NULL,
					version INTEGER NOT NULL DEFAULT 1,
					CHECK ((kind = 'labor') = (worker_id IS NOT NULL))
				);

				CREATE INDEX idx_workers_worker_type_id ON workers(worker_type_id);
				CREATE INDEX idx_workers_external_id ON workers(external_id);
				CREATE INDEX idx_rates_worker_type_id ON rates(worker_type_id);
				CREATE UNIQUE INDEX idx_rates_open_ended ON rates(worker_type_id) WHERE end_date IS NULL;
			`,
		},
		{
			Version:     3,
			Description: "Create assignment and actual tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS resource_assignments (
					id UUID PRIMARY KEY,
					resource_id UUID NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
					project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					assignment_date CHAR(10) NOT NULL,
					capital_percentage NUMERIC(5,2) NOT NULL CHECK (capital_percentage BETWEEN 0 AND 100),
					expense_percentage NUMERIC(5,2) NOT NULL CHECK (expense_percentage BETWEEN 0 AND 100),
					version INTEGER NOT NULL DEFAULT 1,
					CHECK (capital_percentage + expense_percentage <= 100)
				);

				CREATE TABLE IF NOT EXISTS actuals (
					id UUID PRIMARY KEY,
					project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					external_worker_id VARCHAR(255) NOT NULL,
					actual_date CHAR(10) NOT NULL,
					allocation_percentage NUMERIC(5,2) NOT NULL CHECK (allocation_percentage BETWEEN 0 AND 100),
					actual_cost_cents BIGINT NOT NULL,
					capital_amount_cents BIGINT NOT NULL CHECK (capital_amount_cents >= 0),
					expense_amount_cents BIGINT NOT NULL CHECK (expense_amount_cents >= 0),
					version INTEGER NOT NULL DEFAULT 1,
					CHECK (capital_amount_cents + expense_amount_cents = actual_cost_cents)
				);

				CREATE INDEX idx_assignments_resource_date ON resource_assignments(resource_id, assignment_date);
				CREATE INDEX idx_assignments_project_id ON resource_assignments(project_id);
				CREATE INDEX idx_actuals_worker_date ON actuals(external_worker_id, actual_date);
				CREATE INDEX idx_actuals_project_id ON actuals(project_id);
			`,
		},
		{
			Version:     4,
			Description: "Create user, role, and scope tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_type VARCHAR(50) NOT NULL CHECK (role_type IN
						('admin', 'program_manager', 'project_manager', 'finance_manager', 'resource_manager', 'viewer')),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					version INTEGER NOT NULL DEFAULT 1
				);

				CREATE TABLE IF NOT EXISTS scope_assignments (
					id UUID PRIMARY KEY,
					user_role_id UUID NOT NULL REFERENCES user_roles(id) ON DELETE CASCADE,
					scope_type VARCHAR(20) NOT NULL CHECK (scope_type IN ('global', 'program', 'project')),
					program_id UUID REFERENCES programs(id) ON DELETE CASCADE,
					project_id UUID REFERENCES projects(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					version INTEGER NOT NULL DEFAULT 1,
					CHECK (
						(scope_type = 'global' AND program_id IS NULL AND project_id IS NULL) OR
						(scope_type = 'program' AND program_id IS NOT NULL AND project_id IS NULL) OR
						(scope_type = 'project' AND project_id IS NOT NULL AND program_id IS NULL)
					)
				);

				CREATE INDEX idx_user_roles_user_id ON user_roles(user_id);
				CREATE INDEX idx_scope_assignments_user_role_id ON scope_assignments(user_role_id);
				CREATE INDEX idx_scope_assignments_program_id ON scope_assignments(program_id);
				CREATE INDEX idx_scope_assignments_project_id ON scope_assignments(project_id);
			`,
		},
	}
}

// RunMigrations applies pending migrations in version order, recording each
// in tally_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tally_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM tally_migrations")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tally_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
