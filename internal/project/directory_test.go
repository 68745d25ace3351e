package project_test

import (
	"context"
	"testing"

	"galley/internal/project"
	"galley/internal/testsupport"
)

func TestDirectoryAuthorization(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Auth.Projects["open"] = []string{project.Wildcard}
	dir := project.NewDirectory(cfg)
	ctx := context.Background()

	cases := []struct {
		user, project string
		want          bool
	}{
		{"alice", "demo", true},
		{"ALICE", "demo", true},
		{"bob", "demo", false},
		{"", "demo", false},
		{"bob", "open", true},
		{"alice", "missing", false},
	}
	for _, tc := range cases {
		got, err := dir.IsAuthorized(ctx, tc.user, tc.project)
		if err != nil {
			t.Fatalf("IsAuthorized(%q, %q): %v", tc.user, tc.project, err)
		}
		if got != tc.want {
			t.Fatalf("IsAuthorized(%q, %q) = %v, want %v", tc.user, tc.project, got, tc.want)
		}
	}
}

func TestDirectoryMarkersAreCopied(t *testing.T) {
	dir := project.NewDirectory(testsupport.NewConfig(t))
	markers, err := dir.Markers(context.Background(), "demo")
	if err != nil || len(markers) != 3 {
		t.Fatalf("Markers: %v %v", markers, err)
	}
	markers[0] = "mutated"
	again, _ := dir.Markers(context.Background(), "demo")
	if again[0] != "\\v" {
		t.Fatalf("catalog was mutated through returned slice: %v", again)
	}
	if none, _ := dir.Markers(context.Background(), "missing"); len(none) != 0 {
		t.Fatalf("expected no markers for unknown project, got %v", none)
	}
}

func TestDirectoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := project.NewDirectory(testsupport.NewConfig(t)).IsAuthorized(ctx, "alice", "demo"); err == nil {
		t.Fatal("expected context error")
	}
}
