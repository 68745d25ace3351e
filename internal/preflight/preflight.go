package preflight

import (
	"context"

	"galley/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Template directory", cfg.Paths.TemplateDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
	}
	results = append(results, CheckStorage(cfg.Storage))

	for _, ep := range cfg.Render.Endpoints {
		results = append(results, CheckRenderEndpoint(ctx, ep))
	}

	// The broker only carries work in polling mode.
	if cfg.Engine.Mode == config.ModePolling {
		results = append(results, CheckBroker(ctx, cfg.Transform.AMQPURL))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
