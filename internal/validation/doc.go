// Package validation implements the first pipeline stage: requester
// authorization and marker checks before any remote work is started.
package validation
