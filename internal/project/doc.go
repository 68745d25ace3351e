// Package project answers authorization and marker-catalog questions about
// projects from the daemon configuration.
package project
