// Command galley runs the preview daemon and talks to it.
//
// "galley daemon" runs the engine in the foreground until SIGINT or SIGTERM.
// The jobs and status commands use the daemon's HTTP API, except
// "jobs list" which reads the job store directly so it works while the
// daemon is down.
package main
