package access

import (
	"context"
	"fmt"

	"github.com/tallyworks/tally/pkg/entity"
)

// Resolver computes the program and project sets a user may access.
//
// Sets are recomputed from the role/scope graph on every resolution so the
// grants remain the single source of truth; callers memoize within one
// request via RequestScope.
type Resolver struct {
	store *Store
}

// NewResolver creates a resolver over the access store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// AccessiblePrograms returns the set of program ids the user may access.
// Project-level grants contribute the owning program: access to a project
// implies visibility of its program.
func (r *Resolver) AccessiblePrograms(ctx context.Context, userID string) (map[string]bool, error) {
	grants, err := r.store.ActiveGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	programs := make(map[string]bool)
	for _, g := range grants {
		switch g.ScopeType {
		case entity.ScopeGlobal:
			all, err := r.store.AllProgramIDs(ctx)
			if err != nil {
				return nil, err
			}
			for _, id := range all {
				programs[id] = true
			}
			// Global already covers everything; later grants add nothing.
			return programs, nil
		case entity.ScopeProgram:
			if g.ProgramID != nil {
				programs[*g.ProgramID] = true
			}
		case entity.ScopeProject:
			if g.ProjectID != nil {
				parent, err := r.store.ProgramIDOfProject(ctx, *g.ProjectID)
				if err != nil {
					return nil, fmt.Errorf("failed to resolve owning program: %w", err)
				}
				programs[parent] = true
			}
		}
	}
	return programs, nil
}

// AccessibleProjects returns the set of project ids the user may access.
// Program-level grants fan out to every project currently under the
// program.
func (r *Resolver) AccessibleProjects(ctx context.Context, userID string) (map[string]bool, error) {
	grants, err := r.store.ActiveGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	projects := make(map[string]bool)
	for _, g := range grants {
		switch g.ScopeType {
		case entity.ScopeGlobal:
			all, err := r.store.AllProjectIDs(ctx)
			if err != nil {
				return nil, err
			}
			for _, id := range all {
				projects[id] = true
			}
			return projects, nil
		case entity.ScopeProgram:
			if g.ProgramID != nil {
				children, err := r.store.ProjectIDsByProgram(ctx, *g.ProgramID)
				if err != nil {
					return nil, err
				}
				for _, id := range children {
					projects[id] = true
				}
			}
		case entity.ScopeProject:
			if g.ProjectID != nil {
				projects[*g.ProjectID] = true
			}
		}
	}
	return projects, nil
}

// Store returns the underlying grant store.
func (r *Resolver) Store() *Store {
	return r.store
}

// HasGlobalScope short-circuits membership tests for globally scoped
// users.
func (r *Resolver) HasGlobalScope(ctx context.Context, userID string) (bool, error) {
	return r.store.HasActiveGlobalGrant(ctx, userID)
}

// CanAccessProgram reports whether the user may access one program.
func (r *Resolver) CanAccessProgram(ctx context.Context, userID, programID string) (bool, error) {
	global, err := r.HasGlobalScope(ctx, userID)
	if err != nil {
		return false, err
	}
	if global {
		return true, nil
	}
	programs, err := r.AccessiblePrograms(ctx, userID)
	if err != nil {
		return false, err
	}
	return programs[programID], nil
}

// CanWriteProgram reports whether the user may modify one program. A
// project grant makes its parent program visible but never writable, so
// only global scope or a direct program grant counts here.
func (r *Resolver) CanWriteProgram(ctx context.Context, userID, programID string) (bool, error) {
	global, err := r.HasGlobalScope(ctx, userID)
	if err != nil {
		return false, err
	}
	if global {
		return true, nil
	}
	grants, err := r.store.ActiveGrants(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.ScopeType == entity.ScopeProgram && g.ProgramID != nil && *g.ProgramID == programID {
			return true, nil
		}
	}
	return false, nil
}

// CanAccessProject reports whether the user may access one project.
func (r *Resolver) CanAccessProject(ctx context.Context, userID, projectID string) (bool, error) {
	global, err := r.HasGlobalScope(ctx, userID)
	if err != nil {
		return false, err
	}
	if global {
		return true, nil
	}
	projects, err := r.AccessibleProjects(ctx, userID)
	if err != nil {
		return false, err
	}
	return projects[projectID], nil
}

// RequestScope memoizes one user's resolution for the duration of a single
// request. It is carried on the request context and discarded with it;
// scope changes are picked up by the next request.
type RequestScope struct {
	resolver *Resolver
	userID   string

	programs map[string]bool
	projects map[string]bool
	global   *bool
}

// NewRequestScope creates an empty memo for one user.
func NewRequestScope(resolver *Resolver, userID string) *RequestScope {
	return &RequestScope{resolver: resolver, userID: userID}
}

// UserID returns the user this memo belongs to.
func (rs *RequestScope) UserID() string {
	return rs.userID
}

// HasGlobalScope resolves and memoizes the global short-circuit.
func (rs *RequestScope) HasGlobalScope(ctx context.Context) (bool, error) {
	if rs.global == nil {
		global, err := rs.resolver.HasGlobalScope(ctx, rs.userID)
		if err != nil {
			return false, err
		}
		rs.global = &global
	}
	return *rs.global, nil
}

// AccessiblePrograms resolves and memoizes the program set.
func (rs *RequestScope) AccessiblePrograms(ctx context.Context) (map[string]bool, error) {
	if rs.programs == nil {
		programs, err := rs.resolver.AccessiblePrograms(ctx, rs.userID)
		if err != nil {
			return nil, err
		}
		rs.programs = programs
	}
	return rs.programs, nil
}

// AccessibleProjects resolves and memoizes the project set.
func (rs *RequestScope) AccessibleProjects(ctx context.Context) (map[string]bool, error) {
	if rs.projects == nil {
		projects, err := rs.resolver.AccessibleProjects(ctx, rs.userID)
		if err != nil {
			return nil, err
		}
		rs.projects = projects
	}
	return rs.projects, nil
}

// CanAccessProgram tests membership against the memoized sets.
func (rs *RequestScope) CanAccessProgram(ctx context.Context, programID string) (bool, error) {
	global, err := rs.HasGlobalScope(ctx)
	if err != nil {
		return false, err
	}
	if global {
		return true, nil
	}
	programs, err := rs.AccessiblePrograms(ctx)
	if err != nil {
		return false, err
	}
	return programs[programID], nil
}

// CanAccessProject tests membership against the memoized sets.
func (rs *RequestScope) CanAccessProject(ctx context.Context, projectID string) (bool, error) {
	global, err := rs.HasGlobalScope(ctx)
	if err != nil {
		return false, err
	}
	if global {
		return true, nil
	}
	projects, err := rs.AccessibleProjects(ctx)
	if err != nil {
		return false, err
	}
	return projects[projectID], nil
}

type contextKey string

const requestScopeKey contextKey = "access_request_scope"

// WithRequestScope attaches a per-request scope memo to the context.
func WithRequestScope(ctx context.Context, rs *RequestScope) context.Context {
	return context.WithValue(ctx, requestScopeKey, rs)
}

// RequestScopeFrom retrieves the memo for the given user, or nil when the
// context carries none (or one belonging to a different user).
func RequestScopeFrom(ctx context.Context, userID string) *RequestScope {
	rs, ok := ctx.Value(requestScopeKey).(*RequestScope)
	if !ok || rs.userID != userID {
		return nil
	}
	return rs
}
