package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExaSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("expected /search path, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}

		var payload struct {
			Query      string `json:"query"`
			NumResults int    `json:"numResults"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("bad request payload: %v", err)
		}
		if payload.Query != "kafka exactly once" {
			t.Errorf("unexpected query: %s", payload.Query)
		}
		if payload.NumResults != 2 {
			t.Errorf("expected numResults 2, got %d", payload.NumResults)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"title":"Exactly-once semantics","url":"https://example.com/eos","text":"Kafka supports exactly-once delivery.  It uses   idempotent producers."}
		]}`))
	}))
	defer server.Close()

	provider := NewExaProvider("test-key", server.URL, 5*time.Second)

	results, err := provider.Search(context.Background(), "kafka exactly once", 2)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Summary != "Kafka supports exactly-once delivery. It uses idempotent producers." {
		t.Errorf("whitespace not collapsed: %q", results[0].Summary)
	}
	if results[0].Provider != "exa" {
		t.Errorf("expected provider exa, got %s", results[0].Provider)
	}
}

func TestSummarizeTextSentenceBoundary(t *testing.T) {
	long := strings.Repeat("word ", 50) + "First sentence ends here. " + strings.Repeat("tail ", 50)
	got := summarizeText(long, 300)

	if !strings.HasSuffix(got, ".") {
		t.Errorf("expected sentence-boundary cut, got suffix %q", got[len(got)-10:])
	}
	if len(got) > 300 {
		t.Errorf("summary exceeds limit: %d chars", len(got))
	}
}

func TestSummarizeTextHardCut(t *testing.T) {
	long := strings.Repeat("a", 400)
	got := summarizeText(long, 300)

	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis on hard cut, got suffix %q", got[len(got)-5:])
	}
}

func TestSummarizeTextShortInput(t *testing.T) {
	if got := summarizeText("short text", 300); got != "short text" {
		t.Errorf("short input should pass through, got %q", got)
	}
}
