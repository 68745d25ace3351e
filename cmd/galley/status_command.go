package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"galley/internal/api"
	"galley/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, engine, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, statusErr := client.Status(cmd.Context())
			if jsonOut {
				if statusErr != nil {
					return daemonError(ctx, statusErr)
				}
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			renderDaemonSection(out, status, statusErr, colorize)
			fmt.Fprintln(out)
			renderPreflightSection(out, preflight.RunAll(cmd.Context(), cfg), colorize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output daemon status as JSON")
	return cmd
}

func renderDaemonSection(out io.Writer, status *api.DaemonStatus, statusErr error, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if statusErr != nil {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not reachable ("+statusErr.Error()+")", colorize))
		return
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	engine := status.Engine
	kind := statusOK
	if !engine.Running {
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Engine", kind, fmt.Sprintf("%s mode, running %s", engine.Mode, yesNo(engine.Running)), colorize))
	if engine.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, engine.LastError, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Render pool", statusInfo,
		fmt.Sprintf("%d endpoints, %d busy, %d queued", engine.Pool.Endpoints, engine.Pool.Busy, engine.Pool.Queued), colorize))
	if s := engine.Scheduler; s != nil {
		fmt.Fprintln(out, renderStatusLine("Scheduler", statusInfo,
			fmt.Sprintf("%d/%d running, %d pending, %d completed, %d failed", s.Running, s.Capacity, s.Pending, s.Completed, s.Failed), colorize))
	}
	for _, h := range engine.StageHealth {
		kind := statusOK
		detail := "ready"
		if !h.Ready {
			kind = statusError
			detail = h.Detail
		}
		fmt.Fprintln(out, renderStatusLine("Stage "+h.Name, kind, detail, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, formatCounts(engine.JobCounts), colorize))
}

func renderPreflightSection(out io.Writer, results []preflight.Result, colorize bool) {
	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, r := range results {
		kind := statusOK
		if !r.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Strings(states)
	parts := make([]string, 0, len(states))
	for _, state := range states {
		parts = append(parts, fmt.Sprintf("%s=%d", state, counts[state]))
	}
	return strings.Join(parts, " ")
}
