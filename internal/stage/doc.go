// Package stage defines the contract every pipeline stage processor meets,
// along with the overdue check and the helpers that append terminal entries.
package stage
