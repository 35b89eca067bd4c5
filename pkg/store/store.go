package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tallyworks/tally/pkg/entity"
)

// Row is one entity row keyed by column name. Values are driver-native
// except []byte, which is normalized to string.
type Row map[string]interface{}

// Version returns the row's version counter, or 0 when absent.
func (r Row) Version() int64 {
	switch v := r["version"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// ID returns the row's id, or "" when absent.
func (r Row) ID() string {
	if id, ok := r["id"].(string); ok {
		return id
	}
	return ""
}

// Store persists entities with optimistic concurrency control.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need to run their own
// transactions around store operations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Create inserts a new entity row with version 1 and returns the stored
// state. A caller-supplied id is honored; otherwise one is generated.
// Caller-supplied version values are discarded.
func (s *Store) Create(ctx context.Context, t entity.Type, values map[string]interface{}) (Row, error) {
	return createRow(ctx, s.db, t, values)
}

// CreateTx inserts inside an open transaction so callers can serialize a
// precondition check with the insert itself.
func (s *Store) CreateTx(ctx context.Context, tx *sql.Tx, t entity.Type, values map[string]interface{}) (Row, error) {
	return createRow(ctx, tx, t, values)
}

func createRow(ctx context.Context, q runner, t entity.Type, values map[string]interface{}) (Row, error) {
	spec, err := specFor(t)
	if err != nil {
		return nil, err
	}

	id, _ := values["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}

	insert := map[string]interface{}{"id": id, "version": int64(1)}
	for col, val := range values {
		if col == "id" || col == "version" {
			continue
		}
		if !columnKnown(spec, col) {
			return nil, fmt.Errorf("unknown column %q for %s", col, t)
		}
		insert[col] = val
	}
	if spec.timestamps {
		now := time.Now().UTC()
		insert["created_at"] = now
		insert["updated_at"] = now
	}

	columns := make([]string, 0, len(insert))
	for col := range insert {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = insert[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", t, err)
	}

	return getRow(ctx, q, spec, t, id)
}

// Get reads one entity row. The version column is returned but never
// modified by reads.
func (s *Store) Get(ctx context.Context, t entity.Type, id string) (Row, error) {
	spec, err := specFor(t)
	if err != nil {
		return nil, err
	}
	return getRow(ctx, s.db, spec, t, id)
}

// Exists reports whether an entity row exists.
func (s *Store) Exists(ctx context.Context, t entity.Type, id string) (bool, error) {
	spec, err := specFor(t)
	if err != nil {
		return false, err
	}

	var one int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE id = $1", spec.table)
	err = s.db.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", t, err)
	}
	return true, nil
}

// List reads every row of an entity type, optionally filtered by equality
// on a single column.
func (s *Store) List(ctx context.Context, t entity.Type, filterColumn string, filterValue interface{}) ([]Row, error) {
	spec, err := specFor(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(spec.columns, ", "), spec.table)
	var args []interface{}
	if filterColumn != "" {
		if !columnKnown(spec, filterColumn) {
			return nil, fmt.Errorf("unknown column %q for %s", filterColumn, t)
		}
		query += fmt.Sprintf(" WHERE %s = $1", filterColumn)
		args = append(args, filterValue)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row, err := scanRow(rows, spec.columns)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t, err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Update applies changes to an entity row conditioned on its current
// version equaling expectedVersion. On success the version advances by
// exactly one and the new state is returned. On mismatch nothing changes
// and a ConflictError carrying the winner's current state is returned.
// The id, version, and timestamp columns in changes are ignored.
func (s *Store) Update(ctx context.Context, t entity.Type, id string, expectedVersion int64, changes map[string]interface{}) (Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated, err := updateRow(ctx, tx, t, id, expectedVersion, changes)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update of %s %s: %w", t, id, err)
	}
	return updated, nil
}

// UpdateTx applies a version-conditioned update inside an open transaction
// so callers can serialize a precondition check with the write itself, the
// same way CreateTx does for inserts. The caller owns the commit; a
// ConflictError's winner state is read in the caller's transaction.
func (s *Store) UpdateTx(ctx context.Context, tx *sql.Tx, t entity.Type, id string, expectedVersion int64, changes map[string]interface{}) (Row, error) {
	return updateRow(ctx, tx, t, id, expectedVersion, changes)
}

func updateRow(ctx context.Context, q runner, t entity.Type, id string, expectedVersion int64, changes map[string]interface{}) (Row, error) {
	spec, err := specFor(t)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(changes))
	for col := range changes {
		switch col {
		case "id", "version", "created_at", "updated_at":
			continue // the store owns these
		}
		if !spec.updatable[col] {
			return nil, fmt.Errorf("column %q of %s is not updatable", col, t)
		}
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no updatable fields in changes for %s %s", t, id)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+2)
	args := make([]interface{}, 0, len(columns)+2)
	for i, col := range columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, changes[col])
	}
	if spec.timestamps {
		sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)+1))
		args = append(args, time.Now().UTC())
	}
	sets = append(sets, "version = version + 1")

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d AND version = $%d",
		spec.table, strings.Join(sets, ", "), len(args)+1, len(args)+2)
	args = append(args, id, expectedVersion)

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", t, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		// Either the row is gone or another writer advanced the version.
		// Re-read inside the same transaction so the reported winner state
		// is consistent.
		current, err := getRow(ctx, q, spec, t, id)
		if err != nil {
			return nil, err
		}
		return nil, &ConflictError{EntityType: t, EntityID: id, CurrentState: current}
	}

	return getRow(ctx, q, spec, t, id)
}

// Delete removes an entity row. Parents that still own children refuse
// deletion with ErrHasChildren; child rows of a deleted project or
// resource are removed by the schema's cascade rules.
func (s *Store) Delete(ctx context.Context, t entity.Type, id string) error {
	spec, err := specFor(t)
	if err != nil {
		return err
	}

	for _, child := range spec.children {
		var count int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1", child.table, child.column)
		if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
			return fmt.Errorf("failed to count %s children: %w", child.table, err)
		}
		if count > 0 {
			return fmt.Errorf("cannot delete %s %s with %d rows in %s: %w",
				t, id, count, child.table, ErrHasChildren)
		}
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", spec.table)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{EntityType: t, EntityID: id}
	}
	return nil
}

func columnKnown(spec tableSpec, col string) bool {
	for _, c := range spec.columns {
		if c == col {
			return true
		}
	}
	return false
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// runner adds write access on top of querier.
type runner interface {
	querier
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func getRow(ctx context.Context, q querier, spec tableSpec, t entity.Type, id string) (Row, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		strings.Join(spec.columns, ", "), spec.table)

	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", t, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get %s %s: %w", t, id, err)
		}
		return nil, &NotFoundError{EntityType: t, EntityID: id}
	}
	return scanRow(rows, spec.columns)
}

func scanRow(rows *sql.Rows, columns []string) (Row, error) {
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(Row, len(columns))
	for i, col := range columns {
		switch v := values[i].(type) {
		case []byte:
			row[col] = string(v)
		default:
			row[col] = v
		}
	}
	return row, nil
}
