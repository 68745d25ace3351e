package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// RenderServer is a fake rendering endpoint. Every script succeeds and any
// absolute output path argument with a known extension is created on disk.
type RenderServer struct {
	*httptest.Server

	mu      sync.Mutex
	scripts []string
}

// NewRenderServer starts a fake endpoint that is closed with the test.
func NewRenderServer(t testing.TB) *RenderServer {
	t.Helper()
	rs := &RenderServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *RenderServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		return
	}
	var req struct {
		Script string   `json:"script"`
		Args   []string `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rs.mu.Lock()
	rs.scripts = append(rs.scripts, req.Script)
	rs.mu.Unlock()

	for _, arg := range req.Args {
		if !filepath.IsAbs(arg) {
			continue
		}
		switch filepath.Ext(arg) {
		case ".pdf", ".zip", ".idtt":
			if _, err := os.Stat(arg); err == nil {
				continue
			}
			_ = os.MkdirAll(filepath.Dir(arg), 0o755)
			_ = os.WriteFile(arg, []byte(req.Script), 0o644)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"errorCode":0,"errorMessage":"","result":"ok"}`))
}

// Scripts returns the script names called so far.
func (rs *RenderServer) Scripts() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.scripts...)
}
