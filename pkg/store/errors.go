package store

import (
	"errors"
	"fmt"

	"github.com/tallyworks/tally/pkg/entity"
)

// ErrHasChildren is returned when deleting a parent that still owns rows.
var ErrHasChildren = errors.New("entity has children")

// NotFoundError reports that no row exists for the requested entity.
type NotFoundError struct {
	EntityType entity.Type
	EntityID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.EntityType, e.EntityID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConflictError reports an optimistic-lock violation: another writer
// advanced the row's version after the caller read it. CurrentState is the
// winner's row as it stands now, including the post-update version, so the
// caller can reconcile and resubmit. Conflicts are never retried
// automatically.
type ConflictError struct {
	EntityType   entity.Type `json:"entity_type"`
	EntityID     string      `json:"entity_id"`
	CurrentState Row         `json:"current_state"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: entity was modified by another user (current version %d)",
		e.EntityType, e.EntityID, e.CurrentState.Version())
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
