package jobs

import (
	"errors"
	"fmt"

	"galley/internal/services"
)

var (
	// ErrNotFound is returned when no job exists for an id.
	ErrNotFound = fmt.Errorf("job %w", services.ErrNotFound)
	// ErrInvalidTransition is returned when an append would leave the state graph.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTerminal is returned when appending to a job that already finished.
	ErrTerminal = errors.New("job already in terminal state")
	// ErrHistoryConflict is returned when a write would rewrite or drop recorded history.
	ErrHistoryConflict = errors.New("job history conflict")
)
