// Package daemon coordinates the long-running galley process.
//
// It wires configuration, the job store, and the engine into a single
// lifecycle guarded by a flock-based lock so only one daemon owns a data
// directory. The daemon serves the HTTP API with a chi router: job creation,
// lookup, deletion, artifact download, and status.
//
// Keep orchestration logic here: pipeline behavior lives in the engine and
// its stage packages while the daemon focuses on startup, shutdown, and the
// HTTP boundary.
package daemon
