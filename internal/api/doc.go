// Package api defines the wire-format types for the daemon's HTTP surface
// and a client for it.
//
// DTOs use camelCase JSON tags. Job states are exposed as their lowercase
// string names and timestamps use RFC3339 with milliseconds.
//
// Converters translate jobs.Job and engine.Status into DTOs so handlers and
// CLI rendering never depend on internal types. Client is what the galley
// CLI uses to submit, inspect, and delete jobs on a running daemon.
package api
