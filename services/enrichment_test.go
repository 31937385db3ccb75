package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kb-search-platform/internal/config"
	"kb-search-platform/internal/enrichment"
)

type fakeProvider struct {
	name    string
	results []enrichment.Result
	err     error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Search(ctx context.Context, term string, limit int) ([]enrichment.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.results, nil
}

type fakeLookup struct {
	existing map[string]bool
}

func (l *fakeLookup) ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	return l.existing, nil
}

func newTestOrchestrator(providers ...enrichment.Provider) *EnrichmentOrchestrator {
	return &EnrichmentOrchestrator{
		config: &config.Config{
			EnrichmentTimeout:    5,
			EnrichmentMaxSources: 3,
		},
		providers: providers,
	}
}

func TestEnrichAllProvidersFail(t *testing.T) {
	o := newTestOrchestrator(
		&fakeProvider{name: "exa", err: errors.New("timeout")},
		&fakeProvider{name: "wikipedia", err: errors.New("503")},
	)

	result := o.Enrich(context.Background(), nil, "what is CUDA", "", []string{"CUDA programming"})

	if result.Performed {
		t.Error("expected performed=false when every provider fails")
	}
	if result.Message == "" {
		t.Error("expected an explanatory message")
	}
	if len(result.SearchTerms) == 0 {
		t.Error("search terms should still be reported")
	}
}

func TestEnrichSurvivesPartialFailure(t *testing.T) {
	o := newTestOrchestrator(
		&fakeProvider{name: "exa", err: errors.New("down")},
		&fakeProvider{name: "wikipedia", results: []enrichment.Result{
			{URL: "https://en.wikipedia.org/wiki/CUDA", Title: "CUDA", Summary: "Parallel computing platform.", Provider: "wikipedia"},
		}},
	)

	result := o.Enrich(context.Background(), nil, "what is CUDA", "", []string{"CUDA"})

	if !result.Performed {
		t.Fatal("expected performed=true with one surviving provider")
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(result.Candidates))
	}
	if result.Candidates[0].SourceProvider != "wikipedia" {
		t.Errorf("wrong provider attribution: %s", result.Candidates[0].SourceProvider)
	}
	if !strings.Contains(result.Message, "failed") {
		t.Errorf("message should note the failed provider calls: %q", result.Message)
	}
}

func TestEnrichDeduplicatesByNormalizedURL(t *testing.T) {
	o := newTestOrchestrator(
		&fakeProvider{name: "exa", results: []enrichment.Result{
			{URL: "https://Example.com/article/", Title: "Article", Summary: "s", Provider: "exa"},
		}},
		&fakeProvider{name: "wikipedia", results: []enrichment.Result{
			{URL: "https://example.com/article", Title: "Article", Summary: "s", Provider: "wikipedia"},
			{URL: "ftp://example.com/file", Title: "Binary", Summary: "s", Provider: "wikipedia"},
			{URL: "https://example.com/other", Title: "", Summary: "s", Provider: "wikipedia"},
		}},
	)

	result := o.Enrich(context.Background(), nil, "anything here", "", []string{"anything"})

	if len(result.Candidates) != 1 {
		t.Fatalf("expected 1 candidate after dedupe and filtering, got %d: %+v", len(result.Candidates), result.Candidates)
	}
	// First provider in slot order wins the duplicate
	if result.Candidates[0].SourceProvider != "exa" {
		t.Errorf("expected the first slot's result to win, got %s", result.Candidates[0].SourceProvider)
	}
	if result.Candidates[0].URL != "https://example.com/article" {
		t.Errorf("expected normalized URL, got %s", result.Candidates[0].URL)
	}
}

func TestEnrichMarksExistingSources(t *testing.T) {
	o := newTestOrchestrator(
		&fakeProvider{name: "wikipedia", results: []enrichment.Result{
			{URL: "https://example.com/known", Title: "Known", Summary: "s", Provider: "wikipedia"},
			{URL: "https://example.com/new", Title: "New", Summary: "s", Provider: "wikipedia"},
		}},
	)
	lookup := &fakeLookup{existing: map[string]bool{"https://example.com/known": true}}

	result := o.Enrich(context.Background(), lookup, "q words here", "", []string{"term"})

	byURL := map[string]bool{}
	for _, c := range result.Candidates {
		byURL[c.URL] = c.AlreadyExists
	}
	if !byURL["https://example.com/known"] {
		t.Error("known source not flagged as already existing")
	}
	if byURL["https://example.com/new"] {
		t.Error("new source wrongly flagged as existing")
	}
}

func TestEnrichNoProvidersConfigured(t *testing.T) {
	o := newTestOrchestrator()

	result := o.Enrich(context.Background(), nil, "question", "", []string{"term"})
	if result.Performed {
		t.Error("expected performed=false with no providers")
	}
}

func TestDeriveSearchTerms(t *testing.T) {
	// Evaluator suggestions win and are capped at three
	terms := DeriveSearchTerms("q", "", []string{"CUDA programming", " ", "PyTorch tensors", "neural networks", "extra term"})
	if len(terms) != 3 {
		t.Fatalf("expected 3 terms, got %v", terms)
	}
	if terms[0] != "CUDA programming" {
		t.Errorf("unexpected first term: %s", terms[0])
	}

	// Fallback distills the question
	terms = DeriveSearchTerms("What does the A15 Bionic chip do?", "", nil)
	if len(terms) == 0 {
		t.Fatal("expected fallback terms from the question")
	}
	if strings.Contains(terms[0], "what") || strings.Contains(terms[0], "the") {
		t.Errorf("filler words leaked into fallback term: %q", terms[0])
	}

	// Missing info contributes a second fallback term
	terms = DeriveSearchTerms("How fast is it?", "benchmark results for M2 chips", nil)
	if len(terms) != 1 && len(terms) != 2 {
		t.Fatalf("unexpected term count: %v", terms)
	}

	if terms := DeriveSearchTerms("", "", nil); len(terms) != 0 {
		t.Errorf("expected no terms from empty inputs, got %v", terms)
	}
}
