// Package jobflow runs a whole job as one synchronous unit of work for the
// scheduled execution mode.
package jobflow
