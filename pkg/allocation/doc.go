// Package allocation validates worker capacity: the aggregate allocation
// percentage across all resource assignments and actuals for one worker on
// one day must not exceed 100.00%.
//
// Workers are identified by their external id (the "worker key"), which is
// how actuals reference them and how assignments resolve through the
// resource and worker tables. All arithmetic is two-decimal fixed point;
// stored percentages are converted per row and summed as integers, so the
// boundary comparison against 100.00 is exact.
//
// The validator only reads. Making a check-then-insert sequence safe
// against concurrent writers is the caller's job: the service layer runs
// both inside one transaction serialized per (worker, date) key.
package allocation
