// Package testsupport holds shared fixtures for package tests: config in a
// temp dir, an opened job store, a settable clock and a fake render endpoint.
package testsupport
