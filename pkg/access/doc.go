// Package access resolves which programs and projects a user may touch and
// guards operations with that resolution.
//
// Accessibility derives transitively from grants: each active user role
// carries active scope assignments at global, program, or project level.
// Global unions in everything that exists at query time; a program grant
// unions in that program and every project under it; a project grant
// unions in that project plus visibility of its owning program. The walk
// is a single-pass set union over a two-level hierarchy with no recursion.
//
// Resolution is computed per request and memoized in a RequestScope carried
// on the context, never in process-global state, so role and scope changes
// take effect on the next request without invalidation machinery.
//
// Denials are uniform: the guard reports only that access is missing,
// never whether the user has no grants at all or grants to unrelated
// entities, to avoid leaking scope topology.
package access
