package testsupport

import (
	"context"
	"testing"
	"time"

	"galley/internal/config"
	"galley/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SampleSelection returns a selection the default test config authorizes.
func SampleSelection() jobs.Selection {
	return jobs.Selection{
		Project:        "demo",
		Collection:     "MRK",
		Chapters:       []int{1, 2},
		SourceLanguage: "en",
		TargetLanguage: "fr",
		Template:       "default",
	}
}

// NewJob inserts a Submitted job requested by alice.
func NewJob(t testing.TB, store *jobs.Store, at time.Time) *jobs.Job {
	t.Helper()

	job := jobs.New("alice", SampleSelection(), jobs.Layout{PageWidth: 432, PageHeight: 648, FontSize: 11, LineSpacing: 13, Margin: 54}, "test", at)
	added, err := store.Add(context.Background(), job)
	if err != nil {
		t.Fatalf("store.Add: %v", err)
	}
	return added
}
