// Package services defines shared utilities consumed by the stage processors
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into the message/detail pair recorded on a job's Error entry.
//   - RemoteError, the verbatim code/message pair returned by rendering
//     endpoints and queue submission.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
