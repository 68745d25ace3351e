// Package engine assembles the preview pipeline for one execution mode and
// exposes the create, read, delete, and file operations the HTTP layer calls.
//
// In scheduled mode each job runs end to end as a scheduler unit. In polling
// mode the dispatcher advances jobs stage by stage and the transform cluster
// does the template and tagged-text work. Both modes share the job store,
// the render pool and the object store.
package engine
