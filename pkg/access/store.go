package access

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tallyworks/tally/pkg/entity"
)

// Store reads the role/scope graph and the program/project hierarchy.
type Store struct {
	db *sql.DB
}

// NewStore creates an access store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ActiveGrants returns every (active role, active scope assignment) pair
// for an active user. Inactive users resolve to no grants at all.
func (s *Store) ActiveGrants(ctx context.Context, userID string) ([]Grant, error) {
	query := `
		SELECT ur.role_type, sa.scope_type, sa.program_id, sa.project_id
		FROM scope_assignments sa
		JOIN user_roles ur ON sa.user_role_id = ur.id
		JOIN users u ON ur.user_id = u.id
		WHERE ur.user_id = $1
		  AND u.is_active
		  AND ur.is_active
		  AND sa.is_active
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scope grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var programID, projectID sql.NullString
		if err := rows.Scan(&g.RoleType, &g.ScopeType, &programID, &projectID); err != nil {
			return nil, fmt.Errorf("failed to scan scope grant: %w", err)
		}
		if programID.Valid {
			id := programID.String
			g.ProgramID = &id
		}
		if projectID.Valid {
			id := projectID.String
			g.ProjectID = &id
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// HasActiveGlobalGrant reports whether the user holds any active global
// scope assignment, without materializing the full grant list.
func (s *Store) HasActiveGlobalGrant(ctx context.Context, userID string) (bool, error) {
	query := `
		SELECT 1
		FROM scope_assignments sa
		JOIN user_roles ur ON sa.user_role_id = ur.id
		JOIN users u ON ur.user_id = u.id
		WHERE ur.user_id = $1
		  AND u.is_active
		  AND ur.is_active
		  AND sa.is_active
		  AND sa.scope_type = 'global'
		LIMIT 1
	`

	var one int
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check global scope: %w", err)
	}
	return true, nil
}

// AllProgramIDs returns every program id currently in the store.
func (s *Store) AllProgramIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, "SELECT id FROM programs")
}

// AllProjectIDs returns every project id currently in the store.
func (s *Store) AllProjectIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, "SELECT id FROM projects")
}

// ProjectIDsByProgram returns the ids of every project owned by a program.
func (s *Store) ProjectIDsByProgram(ctx context.Context, programID string) ([]string, error) {
	return s.queryIDs(ctx, "SELECT id FROM projects WHERE program_id = $1", programID)
}

// ProgramIDOfProject returns the owning program of a project.
func (s *Store) ProgramIDOfProject(ctx context.Context, projectID string) (string, error) {
	var programID string
	err := s.db.QueryRowContext(ctx, "SELECT program_id FROM projects WHERE id = $1", projectID).Scan(&programID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("project %s not found", projectID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up project %s: %w", projectID, err)
	}
	return programID, nil
}

// ProgramExists reports whether a program row exists.
func (s *Store) ProgramExists(ctx context.Context, programID string) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM programs WHERE id = $1", programID)
}

// ProjectExists reports whether a project row exists.
func (s *Store) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM projects WHERE id = $1", projectID)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed existence check: %w", err)
	}
	return true, nil
}

// UserActive reports whether a user exists and is active.
func (s *Store) UserActive(ctx context.Context, userID string) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM users WHERE id = $1 AND is_active", userID)
}

// ValidateScopeAssignment rejects a malformed scope assignment before it is
// persisted: the three-way exclusivity invariant plus referential
// existence of the program or project named by the grant.
func (s *Store) ValidateScopeAssignment(ctx context.Context, sa *entity.ScopeAssignment) error {
	if err := sa.Validate(); err != nil {
		return err
	}

	switch sa.ScopeType {
	case entity.ScopeProgram:
		ok, err := s.ProgramExists(ctx, *sa.ProgramID)
		if err != nil {
			return err
		}
		if !ok {
			return &entity.ValidationError{
				Entity: entity.TypeScopeAssignment, Field: "program_id",
				Message: fmt.Sprintf("program %s does not exist", *sa.ProgramID),
			}
		}
	case entity.ScopeProject:
		ok, err := s.ProjectExists(ctx, *sa.ProjectID)
		if err != nil {
			return err
		}
		if !ok {
			return &entity.ValidationError{
				Entity: entity.TypeScopeAssignment, Field: "project_id",
				Message: fmt.Sprintf("project %s does not exist", *sa.ProjectID),
			}
		}
	}
	return nil
}
