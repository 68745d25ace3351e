package render_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"galley/internal/render"
	"galley/internal/services"
)

func TestClientRunScript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/run-script" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Script string   `json:"script"`
			Args   []string `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Script {
		case "ok.jsx":
			_ = json.NewEncoder(w).Encode(map[string]any{"errorCode": 0, "result": req.Args[0]})
		case "broken.jsx":
			_ = json.NewEncoder(w).Encode(map[string]any{"errorCode": 42, "errorMessage": "font Minion missing"})
		default:
			http.Error(w, "no such script", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := render.NewClient("primary", srv.URL+"/")
	ctx := context.Background()

	result, err := client.RunScript(ctx, "ok.jsx", []string{"job-1"})
	if err != nil || result != "job-1" {
		t.Fatalf("RunScript ok = %q, %v", result, err)
	}

	_, err = client.RunScript(ctx, "broken.jsx", nil)
	var remote *services.RemoteError
	if !errors.As(err, &remote) || remote.Code != 42 || remote.Message != "font Minion missing" {
		t.Fatalf("expected remote error 42, got %v", err)
	}
	if services.Details(err).Message != "font Minion missing" {
		t.Fatalf("remote message should surface verbatim, got %q", services.Details(err).Message)
	}

	_, err = client.RunScript(ctx, "missing.jsx", nil)
	if !errors.As(err, &remote) || remote.Code != http.StatusNotFound {
		t.Fatalf("expected http failure as remote error, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := client.RunScript(cancelled, "ok.jsx", []string{"x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
