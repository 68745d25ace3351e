// Package transform bridges jobs to the external transform cluster.
//
// Work is handed to the cluster by publishing a job descriptor on one of two
// named AMQP queues. Progress comes back through marker objects that the
// cluster writes under the job's object-store namespace; the Bridge turns
// those markers into a Status, and the queue-backed stage processors turn a
// Status into state-history entries.
package transform
