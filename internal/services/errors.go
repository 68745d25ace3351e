package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrTimeout       = errors.New("stage timeout")
	ErrRemote        = errors.New("remote failure")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
)

var markers = []error{
	ErrValidation,
	ErrAuthorization,
	ErrTimeout,
	ErrRemote,
	ErrConfiguration,
	ErrNotFound,
	ErrTransient,
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// RemoteError carries the code/message pair returned by a rendering endpoint
// or a queue broker. Code zero never produces a RemoteError.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "no message"
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, msg)
}

// Is reports RemoteError as an ErrRemote so callers can classify without
// unwrapping the concrete type.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// Detail is the user-facing summary of a failure recorded on a job.
type Detail struct {
	Kind    string
	Message string
	Detail  string
}

// Details splits err into the kind, a short user-facing message, and the full
// diagnostic chain. Remote failures keep the endpoint's message verbatim.
func Details(err error) Detail {
	if err == nil {
		return Detail{}
	}
	d := Detail{Kind: Kind(err), Detail: err.Error()}
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		d.Message = strings.TrimSpace(remote.Message)
		if d.Message == "" {
			d.Message = fmt.Sprintf("remote error %d", remote.Code)
		}
	case errors.Is(err, ErrAuthorization):
		d.Message = "requester is not authorized for this project"
	case errors.Is(err, ErrTimeout):
		d.Message = "stage did not complete in time"
	case errors.Is(err, ErrValidation):
		d.Message = "invalid job parameters"
	case errors.Is(err, ErrNotFound):
		d.Message = "required resource not found"
	case errors.Is(err, ErrConfiguration):
		d.Message = "engine misconfigured"
	default:
		d.Message = "preview generation failed"
	}
	return d
}

// Kind returns the marker name attached to err, or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	if IsCancellation(err) {
		return "cancelled"
	}
	for _, m := range markers {
		if errors.Is(err, m) {
			return m.Error()
		}
	}
	return "unknown"
}

// IsCancellation reports whether err is an expected cancellation unwind rather
// than a fault.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
