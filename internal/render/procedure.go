package render

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"galley/internal/config"
	"galley/internal/jobs"
)

// Phase selects which part of the rendering work a task performs.
type Phase int

const (
	// PhaseTaggedText converts the manuscript selection to tagged text.
	PhaseTaggedText Phase = iota
	// PhaseDocument lays out the tagged text and exports the preview files.
	PhaseDocument
)

func (p Phase) String() string {
	switch p {
	case PhaseTaggedText:
		return "tagged_text"
	case PhaseDocument:
		return "document"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// ScriptRunner is the subset of Client the procedure needs.
type ScriptRunner interface {
	RunScript(ctx context.Context, script string, args []string) (string, error)
}

// Procedure runs the script sequence for a phase against one endpoint.
type Procedure struct {
	scripts config.RenderScripts
	paths   Paths
}

// NewProcedure builds a procedure from the render script names.
func NewProcedure(scripts config.RenderScripts, paths Paths) *Procedure {
	return &Procedure{scripts: scripts, paths: paths}
}

type step struct {
	script string
	args   []string
}

// Run executes every step of phase in order, checking ctx before each call.
func (p *Procedure) Run(ctx context.Context, runner ScriptRunner, job *jobs.Job, phase Phase) error {
	if err := os.MkdirAll(p.paths.JobDir(job.ID), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	steps, err := p.steps(job, phase)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := runner.RunScript(ctx, s.script, s.args); err != nil {
			return fmt.Errorf("%s: %w", s.script, err)
		}
	}
	return nil
}

func (p *Procedure) steps(job *jobs.Job, phase Phase) ([]step, error) {
	id := job.ID
	switch phase {
	case PhaseTaggedText:
		sel := job.Selection
		args := []string{
			id,
			p.paths.Template(id),
			p.paths.TaggedText(id),
			sel.Project,
			sel.Collection,
			joinInts(sel.Chapters),
			sel.SourceLanguage,
			sel.TargetLanguage,
		}
		if sel.CustomMarkers && len(sel.Markers) > 0 {
			args = append(args, "markers="+strings.Join(sel.Markers, " "))
		}
		return []step{{script: p.scripts.TaggedText, args: args}}, nil
	case PhaseDocument:
		return []step{
			{script: p.scripts.OpenDocument, args: []string{id, p.paths.TaggedText(id)}},
			{script: p.scripts.ApplyLayout, args: append([]string{id}, layoutArgs(job.Layout)...)},
			{script: p.scripts.ExportPDF, args: []string{id, p.paths.PDF(id)}},
			{script: p.scripts.ExportPackage, args: []string{id, p.paths.Package(id)}},
		}, nil
	default:
		return nil, fmt.Errorf("unknown render phase %s", phase)
	}
}

func layoutArgs(l jobs.Layout) []string {
	return []string{
		"pageWidth=" + formatPoints(l.PageWidth),
		"pageHeight=" + formatPoints(l.PageHeight),
		"fontSize=" + formatPoints(l.FontSize),
		"lineSpacing=" + formatPoints(l.LineSpacing),
		"margin=" + formatPoints(l.Margin),
	}
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
