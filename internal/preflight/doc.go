// Package preflight provides readiness checks for the filesystem paths and
// remote services galley depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start, since render endpoints and the broker may come up later. The CLI
// "galley status" command prints the same results.
//
// Checks for features the configured mode does not use are skipped.
package preflight
