// Package config loads, normalizes, and validates galley configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GALLEY_AMQP_URL and AWS_REGION. The Config type centralizes every knob the
// daemon and CLI need: storage locations, the execution mode, stage timeouts,
// transform queues, render endpoints, and layout bounds.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
