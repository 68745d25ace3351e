// Package jobs defines the preview job model and persists jobs in SQLite.
//
// A Job carries its selection, resolved layout, and an append-only history
// of state entries. The current state is derived from that history rather
// than stored independently, and every transition is checked against the
// pipeline graph before it is appended.
//
// The Store keeps one row per job plus one row per state entry. Updates only
// ever insert new entries; a write that would drop or rewrite recorded
// history is rejected with ErrHistoryConflict. Schema changes bump the
// version in schema.go; operators clear the database to adopt the new schema.
package jobs
