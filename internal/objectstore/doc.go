// Package objectstore abstracts the object storage shared with the transform
// cluster. Templates live under templates/{project}/{template} and every job
// owns the jobs/{jobId}/ namespace, where the cluster writes its completion
// markers and outputs and the engine writes cancellation markers.
//
// LocalStore keeps objects on the filesystem for single-host deployments and
// tests; S3Store talks to any S3-compatible service through aws-sdk-go-v2.
package objectstore
