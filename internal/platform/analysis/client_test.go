package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAnalyze(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyses" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Analyze(context.Background(), "t1", "exp_1"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if gotBody["tenant_id"] != "t1" || gotBody["experiment_id"] != "exp_1" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestAnalyzeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	err = client.Analyze(context.Background(), "t1", "exp_1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("error = %v", err)
	}
}

func TestAnalyzeRequiresIDs(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Analyze(context.Background(), "", "exp_1"); err == nil {
		t.Fatal("expected error for empty tenant id")
	}
	if err := client.Analyze(context.Background(), "t1", ""); err == nil {
		t.Fatal("expected error for empty experiment id")
	}
}
