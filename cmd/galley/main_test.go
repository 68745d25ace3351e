package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"galley/internal/api"
	"galley/internal/config"
	"galley/internal/jobs"
	"galley/internal/testsupport"
)

// writeConfig writes a minimal config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
template_dir = %q
output_dir = %q

[api]
bind = "127.0.0.1:1"

[storage]
local_root = %q

[auth.projects]
demo = ["alice"]
`,
		filepath.Join(base, "data"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "templates"),
		filepath.Join(base, "output"),
		filepath.Join(base, "objects"),
	)
	path := filepath.Join(base, "galley.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseChapters(t *testing.T) {
	cases := map[string][]int{
		"1":         {1},
		"1,2":       {1, 2},
		"3-5, 8":    {3, 4, 5, 8},
		" 2 , 4-4 ": {2, 4},
	}
	for input, want := range cases {
		got, err := parseChapters(input)
		if err != nil {
			t.Fatalf("parseChapters(%q): %v", input, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("parseChapters(%q) = %v, want %v", input, got, want)
		}
	}
	for _, bad := range []string{"", "x", "5-3", "1-"} {
		if _, err := parseChapters(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "galley.toml")
	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected path in output, got %q", out)
	}
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite without --overwrite")
	}
}

func TestJobsListReadsStore(t *testing.T) {
	path := writeConfig(t)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	job := testsupport.NewJob(t, store, time.Now())
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := runCLI(t, "--config", path, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	if !strings.Contains(out, job.ID) || !strings.Contains(out, "submitted") {
		t.Fatalf("expected job row in output, got %q", out)
	}

	out, err = runCLI(t, "--config", path, "jobs", "list", "--state", "rendered")
	if err != nil {
		t.Fatalf("jobs list --state: %v", err)
	}
	if !strings.Contains(out, "No jobs") {
		t.Fatalf("expected empty listing, got %q", out)
	}
}

func TestJobsSubmitAndShow(t *testing.T) {
	var received api.CreateJobRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			_ = json.NewDecoder(r.Body).Decode(&received)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.Job{ID: "job-7", State: "submitted"}})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-7":
			_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.Job{
				ID:        "job-7",
				State:     "rendered",
				Requester: "alice",
				Selection: jobs.Selection{Project: "demo", Collection: "MRK", Chapters: []int{1, 2}},
				History: []api.HistoryEntry{
					{State: "submitted", Source: "api", Timestamp: "2026-07-01T10:00:00.000Z"},
					{State: "validated", Source: "validation", Timestamp: "2026-07-01T10:00:01.000Z"},
				},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job not found"})
		}
	}))
	defer srv.Close()
	path := writeConfig(t)

	out, err := runCLI(t, "--config", path, "--api", srv.URL, "jobs", "submit",
		"--requester", "alice", "--project", "demo", "--collection", "MRK",
		"--chapters", "1-2", "--from", "en", "--to", "fr", "--font-size", "12")
	if err != nil {
		t.Fatalf("jobs submit: %v", err)
	}
	if !strings.Contains(out, "job-7") {
		t.Fatalf("expected job id in output, got %q", out)
	}
	if received.Requester != "alice" || !reflect.DeepEqual(received.Selection.Chapters, []int{1, 2}) {
		t.Fatalf("unexpected request %+v", received)
	}
	if received.Layout.FontSize == nil || *received.Layout.FontSize != 12 || received.Layout.PageWidth != nil {
		t.Fatalf("expected only font size override, got %+v", received.Layout)
	}

	out, err = runCLI(t, "--config", path, "--api", srv.URL, "jobs", "show", "job-7")
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	for _, fragment := range []string{"rendered", "validation", "demo / MRK"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output, got %q", fragment, out)
		}
	}

	if _, err := runCLI(t, "--config", path, "--api", srv.URL, "jobs", "show", "job-8"); err == nil || !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	path := writeConfig(t)
	out, err := runCLI(t, "--config", path, "--api", "http://"+addr, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, fragment := range []string{"not reachable", "Data directory", "Render endpoint local"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output, got %q", fragment, out)
		}
	}
}
