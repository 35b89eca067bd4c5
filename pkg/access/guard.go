package access

import (
	"context"

	"github.com/tallyworks/tally/pkg/entity"
)

// Guard authorizes single-entity operations and filters list results using
// the resolver's membership tests. Every denial carries the same message
// regardless of cause.
type Guard struct {
	resolver *Resolver
}

// NewGuard creates a guard over a resolver.
func NewGuard(resolver *Resolver) *Guard {
	return &Guard{resolver: resolver}
}

// scopeFor reuses a request-scoped memo from the context when one exists
// for this user, otherwise resolves fresh.
func (g *Guard) scopeFor(ctx context.Context, userID string) *RequestScope {
	if rs := RequestScopeFrom(ctx, userID); rs != nil {
		return rs
	}
	return NewRequestScope(g.resolver, userID)
}

// AuthorizeProgram permits or denies one program operation.
func (g *Guard) AuthorizeProgram(ctx context.Context, userID, programID string) error {
	ok, err := g.scopeFor(ctx, userID).CanAccessProgram(ctx, programID)
	if err != nil {
		return err
	}
	if !ok {
		return &DeniedError{EntityType: entity.TypeProgram, EntityID: programID}
	}
	return nil
}

// AuthorizeProgramWrite permits or denies a mutation of one program.
// Unlike AuthorizeProgram it ignores the visibility a project grant gives
// over its parent program.
func (g *Guard) AuthorizeProgramWrite(ctx context.Context, userID, programID string) error {
	ok, err := g.resolver.CanWriteProgram(ctx, userID, programID)
	if err != nil {
		return err
	}
	if !ok {
		return &DeniedError{EntityType: entity.TypeProgram, EntityID: programID}
	}
	return nil
}

// AuthorizeProject permits or denies one project operation.
func (g *Guard) AuthorizeProject(ctx context.Context, userID, projectID string) error {
	ok, err := g.scopeFor(ctx, userID).CanAccessProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return &DeniedError{EntityType: entity.TypeProject, EntityID: projectID}
	}
	return nil
}

// AuthorizeGlobal permits operations that require a global grant, such as
// editing users, roles, workers, or rates.
func (g *Guard) AuthorizeGlobal(ctx context.Context, userID string, target entity.Type, targetID string) error {
	ok, err := g.scopeFor(ctx, userID).HasGlobalScope(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &DeniedError{EntityType: target, EntityID: targetID}
	}
	return nil
}

// FilterPrograms keeps only the candidate program ids the user may access,
// preserving order.
func (g *Guard) FilterPrograms(ctx context.Context, userID string, candidates []string) ([]string, error) {
	rs := g.scopeFor(ctx, userID)
	global, err := rs.HasGlobalScope(ctx)
	if err != nil {
		return nil, err
	}
	if global {
		return candidates, nil
	}

	accessible, err := rs.AccessiblePrograms(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if accessible[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

// FilterProjects keeps only the candidate project ids the user may access,
// preserving order.
func (g *Guard) FilterProjects(ctx context.Context, userID string, candidates []string) ([]string, error) {
	rs := g.scopeFor(ctx, userID)
	global, err := rs.HasGlobalScope(ctx)
	if err != nil {
		return nil, err
	}
	if global {
		return candidates, nil
	}

	accessible, err := rs.AccessibleProjects(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if accessible[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}
