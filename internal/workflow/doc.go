// Package workflow runs the polling execution mode.
//
// The Dispatcher owns an ordered routing table from job state to stage
// processor. Each tick first advances jobs sitting in an entry state
// (Submitted, Validated, TemplateReady, TaggedTextReady) by calling the
// owning processor's ProcessJob, then polls jobs in an in-progress state by
// calling GetStatus, which is also where overdue stages are escalated. Jobs
// are handled one at a time, so no two processors ever append to the same
// job concurrently. Everything a tick changed is persisted at the end of the
// sweep.
package workflow
