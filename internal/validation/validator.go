package validation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/project"
	"galley/internal/services"
	"galley/internal/stage"
)

// Check runs the authorization and marker checks for a job. It is shared by
// the polling Validator and the scheduled workflow.
func Check(ctx context.Context, auth project.Authorizer, catalog project.Catalog, job *jobs.Job) error {
	sel := job.Selection
	ok, err := auth.IsAuthorized(ctx, job.Requester, sel.Project)
	if err != nil {
		return services.Wrap(services.ErrTransient, stage.NameValidation, "authorize", "authorization lookup failed", err)
	}
	if !ok {
		return services.Wrap(services.ErrAuthorization, stage.NameValidation, "authorize",
			fmt.Sprintf("%s may not preview project %s", job.Requester, sel.Project), nil)
	}
	if !sel.CustomMarkers || len(sel.Markers) == 0 {
		return nil
	}
	known, err := catalog.Markers(ctx, sel.Project)
	if err != nil {
		return services.Wrap(services.ErrTransient, stage.NameValidation, "markers", "marker lookup failed", err)
	}
	var missing []string
	for _, marker := range sel.Markers {
		if !slices.Contains(known, marker) {
			missing = append(missing, marker)
		}
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrValidation, stage.NameValidation, "markers",
			fmt.Sprintf("project %s does not define markers %s", sel.Project, strings.Join(missing, ", ")), nil)
	}
	return nil
}

// Validator moves jobs from Submitted to Validated.
type Validator struct {
	auth    project.Authorizer
	catalog project.Catalog
	clock   stage.Clock
	logger  *slog.Logger
}

// New constructs a Validator.
func New(auth project.Authorizer, catalog project.Catalog, clock stage.Clock, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{
		auth:    auth,
		catalog: catalog,
		clock:   clock.OrSystem(),
		logger:  logging.NewComponentLogger(logger, stage.NameValidation),
	}
}

func (v *Validator) Name() string { return stage.NameValidation }

// ProcessJob validates synchronously; a rejected job ends in Error.
func (v *Validator) ProcessJob(ctx context.Context, job *jobs.Job) error {
	ctx = services.WithStage(services.WithJobID(ctx, job.ID), stage.NameValidation)
	if err := Check(ctx, v.auth, v.catalog, job); err != nil {
		if services.IsCancellation(err) {
			return err
		}
		logging.WarnWithContext(logging.WithContext(ctx, v.logger), "job rejected", "validation_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check project access and marker configuration"),
		)
		return stage.Fail(job, stage.NameValidation, err, v.clock())
	}
	return job.Append(jobs.StateValidated, stage.NameValidation, v.clock())
}

// GetStatus has nothing to poll: validation completes inside ProcessJob.
func (v *Validator) GetStatus(context.Context, *jobs.Job) error { return nil }

func (v *Validator) CancelJob(_ context.Context, job *jobs.Job) error {
	return stage.Cancel(job, stage.NameValidation, v.clock())
}

func (v *Validator) HealthCheck(context.Context) stage.Health {
	if v.auth == nil || v.catalog == nil {
		return stage.Unhealthy(stage.NameValidation, "project directory unavailable")
	}
	return stage.Healthy(stage.NameValidation)
}

var _ stage.Processor = (*Validator)(nil)
