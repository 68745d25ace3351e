package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"galley/internal/api"
)

func TestClientCreateAndGet(t *testing.T) {
	var created api.CreateJobRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Errorf("decode: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.Job{ID: "job-1", State: "submitted"}})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-1":
			_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.Job{ID: "job-1", State: "rendered"}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job missing", Kind: "not found"})
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL + "/")
	job, err := client.CreateJob(context.Background(), api.CreateJobRequest{Requester: "alice"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID != "job-1" || created.Requester != "alice" {
		t.Fatalf("unexpected create round trip %+v %+v", job, created)
	}
	job, err = client.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != "rendered" {
		t.Fatalf("unexpected state %s", job.State)
	}

	_, err = client.GetJob(context.Background(), "job-2")
	if !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) || statusErr.Message != "job missing" {
		t.Fatalf("expected decoded error message, got %v", err)
	}
}

func TestClientDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "package" {
			http.Error(w, "wrong type", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("zip-bytes"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	n, err := api.NewClient(srv.URL).DownloadFile(context.Background(), "job-1", "package", &buf)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if n != int64(len("zip-bytes")) || buf.String() != "zip-bytes" {
		t.Fatalf("unexpected body %q", buf.String())
	}
}
