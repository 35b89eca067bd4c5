// Package service composes the store, the access guard, and the
// allocation validator around each mutation: resolve the caller's scope,
// authorize the target, validate capacity for allocation-affecting
// entities, then submit the version-conditioned write. Conflict, denial,
// capacity, and validation errors propagate unmodified from their point
// of detection; nothing here retries or downgrades them.
//
// Capacity-checked inserts run the check and the insert in one
// transaction serialized per (worker, date) key with a Postgres advisory
// lock, closing the check-then-insert race between concurrent writers.
package service
