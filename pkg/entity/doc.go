// Package entity defines the domain model: the portfolio/program/project
// hierarchy, labor and non-labor resources with their assignments and
// recorded actuals, and the authorization entities (users, roles, scope
// assignments).
//
// Every user-editable entity carries an integer version used for optimistic
// concurrency control. The version starts at 1 and is incremented only by
// the versioned store; business logic never writes it directly.
//
// Percentages are two-decimal fixed point (Percent, integer hundredths) so
// capacity comparisons never suffer floating-point rounding.
package entity
