package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"galley/internal/jobs"
	"galley/internal/logging"
	"galley/internal/render"
	"galley/internal/scheduler"
	"galley/internal/services"
)

// CreateRequest is a new preview request before defaults are applied.
type CreateRequest struct {
	Requester string
	Selection jobs.Selection
	Layout    jobs.LayoutOverrides
}

// Create validates req, stores the job as Submitted and hands it to the
// active execution mode. Validation failures wrap services.ErrValidation.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*jobs.Job, error) {
	requester := strings.TrimSpace(req.Requester)
	if requester == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "create", "requester is required", nil)
	}
	sel, err := jobs.NormalizeSelection(req.Selection)
	if err != nil {
		return nil, err
	}
	layout, err := jobs.ResolveLayout(req.Layout, e.cfg.Layout)
	if err != nil {
		return nil, err
	}
	job, err := e.store.Add(ctx, jobs.New(requester, sel, layout, "api", e.clock()))
	if err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}
	if err := e.schedule(job.ID); err != nil {
		return nil, err
	}
	logging.WithContext(services.WithJobID(ctx, job.ID), e.logger).Info("job created",
		logging.String("requester", requester),
		logging.String("project", sel.Project),
		logging.String(logging.FieldEventType, "job_created"),
	)
	return job, nil
}

// schedule hands a job to the scheduler once the engine is running. Jobs
// created before Start are picked up by startup recovery.
func (e *Engine) schedule(id string) error {
	if e.scheduler == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	if err := e.scheduler.Submit(e.workflow.Unit(id)); err != nil && !errors.Is(err, scheduler.ErrDuplicate) {
		return fmt.Errorf("schedule job %s: %w", id, err)
	}
	return nil
}

// Get returns the stored job.
func (e *Engine) Get(ctx context.Context, id string) (*jobs.Job, error) {
	return e.store.Get(ctx, id)
}

// List returns every stored job.
func (e *Engine) List(ctx context.Context) ([]*jobs.Job, error) {
	return e.store.List(ctx)
}

// Delete cancels any in-flight work for id, then removes the job and its
// local files.
func (e *Engine) Delete(ctx context.Context, id string) (*jobs.Job, error) {
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	if e.scheduler != nil {
		e.scheduler.Cancel(id)
	}
	if e.dispatcher != nil {
		if _, err := e.dispatcher.Cancel(ctx, id); err != nil && !errors.Is(err, jobs.ErrNotFound) {
			logging.WarnWithContext(logging.WithContext(services.WithJobID(ctx, id), e.logger),
				"cancel before delete incomplete", "job_cancel_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remote work for this job may continue"),
			)
		}
	}
	e.pool.Cancel(id)
	e.pool.Forget(id)

	job, err := e.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{e.paths.JobDir(id), filepath.Dir(e.paths.Template(id))} {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("remove job files failed", logging.String("path", dir), logging.Error(err))
		}
	}
	return job, nil
}

// FileKind selects which preview artifact to fetch.
type FileKind string

const (
	FilePDF     FileKind = "pdf"
	FilePackage FileKind = "package"
)

// ParseFileKind accepts "pdf" (the default) or "package".
func ParseFileKind(value string) (FileKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FilePDF):
		return FilePDF, nil
	case string(FilePackage), "zip":
		return FilePackage, nil
	default:
		return "", services.Wrap(services.ErrValidation, "api", "file", fmt.Sprintf("unknown file type %q", value), nil)
	}
}

// File returns the local path of a rendered job's artifact.
func (e *Engine) File(ctx context.Context, id string, kind FileKind) (string, error) {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.CurrentState() != jobs.StateRendered {
		return "", services.Wrap(services.ErrNotFound, "api", "file", fmt.Sprintf("job %s has not rendered (state %s)", id, job.CurrentState()), nil)
	}
	path := e.paths.PDF(id)
	if kind == FilePackage {
		path = e.paths.Package(id)
	}
	if _, err := os.Stat(path); err != nil {
		return "", services.Wrap(services.ErrNotFound, "api", "file", fmt.Sprintf("%s output missing", kind), err)
	}
	return path, nil
}

// ContentType returns the MIME type served for kind.
func (k FileKind) ContentType() string {
	if k == FilePackage {
		return "application/zip"
	}
	return "application/pdf"
}

// FileName returns the download name for kind.
func (k FileKind) FileName(jobID string) string {
	if k == FilePackage {
		return jobID + "-" + render.PackageFile
	}
	return jobID + "-" + render.PDFFile
}
