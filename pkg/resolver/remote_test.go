package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestHTTPClientReportDownloadsPostsTargetNames(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	var gotBody struct {
		Packages []string `json:"packages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, CurrentAPILevel: 1}
	c.ReportDownloads(context.Background(), []string{"org.foo.bar-1.0"})

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/api/v1/add_downloads" {
		t.Fatalf("path = %q, want /api/v1/add_downloads", gotPath)
	}
	if len(gotBody.Packages) != 1 || gotBody.Packages[0] != "org.foo.bar-1.0" {
		t.Fatalf("unexpected reported target names: %v", gotBody.Packages)
	}
}

func TestHTTPClientReportClientCallPostsCommand(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	var gotBody struct {
		APILevel int    `json:"api_level"`
		Command  string `json:"command"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, CurrentAPILevel: 3}
	c.ReportClientCall(context.Background(), "build")

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/api/v1/add_client_call" {
		t.Fatalf("path = %q, want /api/v1/add_client_call", gotPath)
	}
	if gotBody.APILevel != 3 || gotBody.Command != "build" {
		t.Fatalf("unexpected reported client call: %+v", gotBody)
	}
}

func TestHTTPClientTelemetryIgnoresUnreachableServer(t *testing.T) {
	c := &HTTPClient{BaseURL: "http://127.0.0.1:0", CurrentAPILevel: 1}
	c.ReportDownloads(context.Background(), []string{"x"})
	c.ReportClientCall(context.Background(), "build")
}
