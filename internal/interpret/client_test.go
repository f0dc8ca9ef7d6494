package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnalyzeReturnsCandidates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["description"] == "" {
			t.Error("description missing from request")
		}
		_ = json.NewEncoder(w).Encode(Result{
			Commands: []Candidate{
				{CommandType: "SCAN_SITE", Params: map[string]string{"domain": "example.com"}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second)
	result, err := c.Analyze(context.Background(), "scan example.com")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(result.Commands) != 1 || result.Commands[0].CommandType != "SCAN_SITE" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestAnalyzePropagatesReason(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{Reason: "task is too ambiguous"})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second)
	result, err := c.Analyze(context.Background(), "do something")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(result.Commands) != 0 || result.Reason != "task is too ambiguous" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestAnalyzeUnavailable(t *testing.T) {
	t.Parallel()

	c := NewClient("", time.Second)
	if _, err := c.Analyze(context.Background(), "anything"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c = NewClient(srv.URL, time.Second)
	if _, err := c.Analyze(context.Background(), "anything"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on 502, got %v", err)
	}
}
