package access

import (
	"errors"
	"fmt"

	"github.com/tallyworks/tally/pkg/entity"
)

// Grant is one active (role, scope assignment) pair flattened for
// resolution.
type Grant struct {
	RoleType  entity.RoleType
	ScopeType entity.ScopeType
	ProgramID *string
	ProjectID *string
}

// DeniedError reports a scope violation. The message is identical for
// every denial reason.
type DeniedError struct {
	EntityType entity.Type
	EntityID   string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied to %s %s", e.EntityType, e.EntityID)
}

// IsDenied reports whether err is a DeniedError.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}
