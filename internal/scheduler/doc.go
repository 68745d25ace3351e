// Package scheduler runs whole-job units of work with bounded parallelism.
//
// Pending and running units share one registry keyed by unit id, so Cancel is
// a single map lookup regardless of whether the unit has started.
package scheduler
