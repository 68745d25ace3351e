package project

import (
	"context"
	"slices"
	"strings"

	"galley/internal/config"
)

// Wildcard grants every requester access to a project.
const Wildcard = "*"

// Authorizer decides whether a user may request previews for a project.
type Authorizer interface {
	IsAuthorized(ctx context.Context, user, project string) (bool, error)
}

// Catalog lists the markers a project defines.
type Catalog interface {
	Markers(ctx context.Context, project string) ([]string, error)
}

// Directory serves both lookups from a configuration snapshot.
type Directory struct {
	access  map[string][]string
	markers map[string][]string
}

// NewDirectory copies the auth and project sections of cfg.
func NewDirectory(cfg *config.Config) *Directory {
	d := &Directory{
		access:  make(map[string][]string, len(cfg.Auth.Projects)),
		markers: make(map[string][]string, len(cfg.Projects)),
	}
	for name, users := range cfg.Auth.Projects {
		d.access[name] = slices.Clone(users)
	}
	for name, p := range cfg.Projects {
		d.markers[name] = slices.Clone(p.Markers)
	}
	return d
}

// IsAuthorized reports whether user appears in the project's allow list.
func (d *Directory) IsAuthorized(ctx context.Context, user, project string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return false, nil
	}
	for _, allowed := range d.access[project] {
		if allowed == Wildcard || strings.EqualFold(allowed, user) {
			return true, nil
		}
	}
	return false, nil
}

// Markers returns the project's marker catalog. Unknown projects have none.
func (d *Directory) Markers(ctx context.Context, project string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(d.markers[project]), nil
}
