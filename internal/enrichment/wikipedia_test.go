package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWikipediaSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "query" {
			t.Errorf("expected action=query, got %s", r.URL.Query().Get("action"))
		}
		if r.URL.Query().Get("list") != "search" {
			t.Errorf("expected list=search, got %s", r.URL.Query().Get("list"))
		}
		if r.URL.Query().Get("srsearch") != "redis persistence" {
			t.Errorf("unexpected search term: %s", r.URL.Query().Get("srsearch"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":{"search":[
			{"title":"Redis","snippet":"<span class=\"searchmatch\">Redis</span> is an in-memory store","pageid":1},
			{"title":"Data persistence","snippet":"Durable &quot;state&quot;","pageid":2}
		]}}`))
	}))
	defer server.Close()

	provider := NewWikipediaProvider(server.URL, 5*time.Second)

	results, err := provider.Search(context.Background(), "redis persistence", 3)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if results[0].Summary != "Redis is an in-memory store" {
		t.Errorf("highlight markup not stripped: %q", results[0].Summary)
	}
	if results[1].Summary != `Durable "state"` {
		t.Errorf("entities not unescaped: %q", results[1].Summary)
	}
	if results[0].Provider != "wikipedia" {
		t.Errorf("expected provider wikipedia, got %s", results[0].Provider)
	}
}

func TestWikipediaArticleURL(t *testing.T) {
	provider := NewWikipediaProvider("https://en.wikipedia.org/w/api.php", time.Second)

	got := provider.articleURL("Data persistence")
	want := "https://en.wikipedia.org/wiki/Data_persistence"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestWikipediaSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewWikipediaProvider(server.URL, time.Second)

	if _, err := provider.Search(context.Background(), "anything", 3); err == nil {
		t.Fatal("expected error on 503 response")
	}
}
