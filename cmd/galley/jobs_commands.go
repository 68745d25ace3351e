package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"galley/internal/api"
	"galley/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit and inspect preview jobs",
	}
	jobsCmd.AddCommand(newJobsSubmitCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsDownloadCommand(ctx))
	return jobsCmd
}

type submitFlags struct {
	requester  string
	project    string
	collection string
	chapters   string
	source     string
	target     string
	template   string
	markers    []string
	jsonOut    bool
}

func newJobsSubmitCommand(ctx *commandContext) *cobra.Command {
	flags := &submitFlags{}
	var pageWidth, pageHeight, fontSize, lineSpacing, margin float64

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a preview job to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			for name, value := range map[string]*float64{
				"page-width":   &pageWidth,
				"page-height":  &pageHeight,
				"font-size":    &fontSize,
				"line-spacing": &lineSpacing,
				"margin":       &margin,
			} {
				if cmd.Flags().Changed(name) {
					setLayout(&req.Layout, name, *value)
				}
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.CreateJob(cmd.Context(), req)
			if err != nil {
				return daemonError(ctx, err)
			}
			if flags.jsonOut {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s)\n", job.ID, job.State)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.requester, "requester", "", "Requesting user (defaults to the current user)")
	f.StringVar(&flags.project, "project", "", "Project name")
	f.StringVar(&flags.collection, "collection", "", "Collection (book) within the project")
	f.StringVar(&flags.chapters, "chapters", "", "Chapters, e.g. 1,2,5-7")
	f.StringVar(&flags.source, "from", "", "Source language code")
	f.StringVar(&flags.target, "to", "", "Target language code")
	f.StringVar(&flags.template, "template", "", "Layout template name")
	f.StringSliceVar(&flags.markers, "marker", nil, "Custom marker to include (repeatable)")
	f.Float64Var(&pageWidth, "page-width", 0, "Page width in points")
	f.Float64Var(&pageHeight, "page-height", 0, "Page height in points")
	f.Float64Var(&fontSize, "font-size", 0, "Body font size in points")
	f.Float64Var(&lineSpacing, "line-spacing", 0, "Line spacing in points")
	f.Float64Var(&margin, "margin", 0, "Page margin in points")
	f.BoolVar(&flags.jsonOut, "json", false, "Output as JSON")
	for _, name := range []string{"project", "collection", "chapters", "from", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (f *submitFlags) request() (api.CreateJobRequest, error) {
	chapters, err := parseChapters(f.chapters)
	if err != nil {
		return api.CreateJobRequest{}, err
	}
	requester := strings.TrimSpace(f.requester)
	if requester == "" {
		requester = currentUser()
	}
	return api.CreateJobRequest{
		Requester: requester,
		Selection: jobs.Selection{
			Project:        f.project,
			Collection:     f.collection,
			Chapters:       chapters,
			SourceLanguage: f.source,
			TargetLanguage: f.target,
			Template:       f.template,
			CustomMarkers:  len(f.markers) > 0,
			Markers:        f.markers,
		},
	}, nil
}

func setLayout(layout *jobs.LayoutOverrides, name string, value float64) {
	switch name {
	case "page-width":
		layout.PageWidth = &value
	case "page-height":
		layout.PageHeight = &value
	case "font-size":
		layout.FontSize = &value
	case "line-spacing":
		layout.LineSpacing = &value
	case "margin":
		layout.Margin = &value
	}
}

// parseChapters accepts a comma separated list of chapter numbers and
// inclusive ranges.
func parseChapters(value string) ([]int, error) {
	var chapters []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid chapter %q", part)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || end < start {
				return nil, fmt.Errorf("invalid chapter range %q", part)
			}
		}
		for ch := start; ch <= end; ch++ {
			chapters = append(chapters, ch)
		}
	}
	if len(chapters) == 0 {
		return nil, errors.New("at least one chapter is required")
	}
	return chapters, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job and its state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return daemonError(ctx, err)
			}
			if jsonOut {
				return writeJSON(cmd, job)
			}
			renderJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderJob(out io.Writer, job *api.Job) {
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("State", stateKind(job.State), job.State, colorize))
	fmt.Fprintln(out, renderStatusLine("Requester", statusInfo, job.Requester, colorize))
	fmt.Fprintln(out, renderStatusLine("Project", statusInfo, fmt.Sprintf("%s / %s", job.Selection.Project, job.Selection.Collection), colorize))
	fmt.Fprintln(out, renderStatusLine("Chapters", statusInfo, formatChapters(job.Selection.Chapters), colorize))
	fmt.Fprintln(out, renderStatusLine("Languages", statusInfo, job.Selection.SourceLanguage+" -> "+job.Selection.TargetLanguage, colorize))
	if job.Failed {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(job.History))
	for i, entry := range job.History {
		rows = append(rows, []string{strconv.Itoa(i + 1), entry.State, entry.Source, entry.Timestamp})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "State", "Source", "At"}, rows, []columnAlignment{alignRight}))
}

func formatChapters(chapters []int) string {
	parts := make([]string, len(chapters))
	for i, ch := range chapters {
		parts[i] = strconv.Itoa(ch)
	}
	return strings.Join(parts, ",")
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Cancel a job and remove it with its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.DeleteJob(cmd.Context(), args[0])
			if err != nil {
				return daemonError(ctx, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s (was %s)\n", job.ID, job.State)
			return nil
		},
	}
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs from the local job store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := jobs.Open(cfg)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			list, err := listJobs(cmd.Context(), store, states)
			if err != nil {
				return err
			}
			dtos := api.FromJobs(list)
			if jsonOut {
				return writeJSON(cmd, dtos)
			}
			if len(dtos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(dtos))
			for _, job := range dtos {
				rows = append(rows, []string{job.ID, job.State, job.Selection.Project, job.Requester, job.CreatedAt, job.ErrorMessage})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "State", "Project", "Requester", "Created", "Error"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only list jobs currently in these states")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func listJobs(ctx context.Context, store *jobs.Store, states []string) ([]*jobs.Job, error) {
	if len(states) == 0 {
		return store.List(ctx)
	}
	var out []*jobs.Job
	for _, value := range states {
		state, ok := jobs.ParseState(value)
		if !ok {
			return nil, fmt.Errorf("unknown state %q", value)
		}
		matched, err := store.ListByState(ctx, state)
		if err != nil {
			return nil, err
		}
		out = append(out, matched...)
	}
	return out, nil
}

func newJobsDownloadCommand(ctx *commandContext) *cobra.Command {
	var kind, output string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a rendered PDF or package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(output)
			if target == "" {
				ext := ".pdf"
				if kind == "package" {
					ext = ".zip"
				}
				target = args[0] + ext
			}
			tmp, err := os.CreateTemp(filepath.Dir(target), ".galley-download-*")
			if err != nil {
				return fmt.Errorf("create download file: %w", err)
			}
			defer os.Remove(tmp.Name())

			n, err := client.DownloadFile(cmd.Context(), args[0], kind, tmp)
			if closeErr := tmp.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return daemonError(ctx, err)
			}
			if err := os.Rename(tmp.Name(), target); err != nil {
				return fmt.Errorf("save download: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", target, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", "pdf", "Artifact type: pdf or package")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path")
	return cmd
}

func daemonError(ctx *commandContext, err error) error {
	base, _ := ctx.apiURL()
	return wrapDaemonError(err, base)
}
