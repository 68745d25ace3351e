// Package render drives the remote document-rendering endpoints.
//
// Client speaks the run-script protocol to one endpoint. Procedure strings
// script calls together into the tagged-text and document phases. Pool owns
// the configured endpoints, runs at most one job per endpoint, and hands out
// queued jobs to the first idle endpoint. Stage adapts the pool to the
// dispatcher's processor contract.
package render
