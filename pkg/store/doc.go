// Package store implements the versioned persistence layer.
//
// Every user-editable entity row carries an integer version, initialized to
// 1 at creation. Updates are conditional on the caller's expected version:
// the row is modified and its version incremented by exactly one only when
// the stored version still equals the expectation. A mismatch changes
// nothing and yields a ConflictError carrying the winning row's current
// state, re-read in the same transaction, so the caller can present the
// conflict and resubmit against fresh data. The store never retries on the
// caller's behalf.
//
// The store is the sole writer of the version column; version values
// supplied in an update payload are discarded.
package store
