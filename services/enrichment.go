package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kb-search-platform/internal/config"
	"kb-search-platform/internal/crawler"
	"kb-search-platform/internal/enrichment"
	"kb-search-platform/models"
)

// EnrichmentOrchestrator fans a set of search terms out to the
// configured external providers and packages the merged results as
// candidate additions to the knowledge base.
//
// Enrichment is strictly best-effort: provider failures degrade the
// result, and even all providers failing yields performed=false with a
// message, never an error that could fail the surrounding question.
type EnrichmentOrchestrator struct {
	config    *config.Config
	providers []enrichment.Provider
}

// NewEnrichmentOrchestrator wires up the providers named in the
// configuration. Providers missing their credentials are skipped.
func NewEnrichmentOrchestrator(cfg *config.Config) *EnrichmentOrchestrator {
	timeout := time.Duration(cfg.EnrichmentTimeout) * time.Second

	var providers []enrichment.Provider
	for _, name := range cfg.EnrichmentProviders {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "exa":
			if cfg.ExaAPIKey == "" {
				fmt.Printf("Enrichment provider exa skipped: no API key configured\n")
				continue
			}
			providers = append(providers, enrichment.NewExaProvider(cfg.ExaAPIKey, cfg.ExaBaseURL, timeout))
		case "wikipedia":
			providers = append(providers, enrichment.NewWikipediaProvider(cfg.WikipediaAPIURL, timeout))
		case "":
		default:
			fmt.Printf("Unknown enrichment provider %q ignored\n", name)
		}
	}

	return &EnrichmentOrchestrator{config: cfg, providers: providers}
}

// ProviderNames lists the active providers.
func (o *EnrichmentOrchestrator) ProviderNames() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// documentLookup is the subset of the document registry enrichment
// needs: which of these normalized source URLs already exist.
type documentLookup interface {
	ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error)
}

// Enrich runs the fan-out for one incomplete answer. Search terms come
// from the evaluator's suggestions when present, otherwise from the
// question and missing-information text.
func (o *EnrichmentOrchestrator) Enrich(ctx context.Context, lookup documentLookup, question, missingInfo string, suggested []string) *models.EnrichmentResult {
	terms := DeriveSearchTerms(question, missingInfo, suggested)
	if len(terms) == 0 {
		return &models.EnrichmentResult{
			Performed: false,
			Message:   "no usable search terms could be derived",
		}
	}
	if len(o.providers) == 0 {
		return &models.EnrichmentResult{
			Performed:   false,
			SearchTerms: terms,
			Message:     "no enrichment providers configured",
		}
	}

	type call struct {
		provider enrichment.Provider
		term     string
	}
	var calls []call
	for _, term := range terms {
		for _, p := range o.providers {
			calls = append(calls, call{provider: p, term: term})
		}
	}

	// One goroutine per (provider, term) pair; results keep slot order so
	// the merged list is deterministic regardless of completion order.
	results := make([][]enrichment.Result, len(calls))
	failures := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c call) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, time.Duration(o.config.EnrichmentTimeout)*time.Second)
			defer cancel()

			res, err := c.provider.Search(callCtx, c.term, o.config.EnrichmentMaxSources)
			if err != nil {
				failures[i] = err
				fmt.Printf("Enrichment provider %s failed for %q: %v\n", c.provider.Name(), c.term, err)
				return
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed == len(calls) {
		return &models.EnrichmentResult{
			Performed:   false,
			SearchTerms: terms,
			Message:     "all enrichment providers failed",
		}
	}

	candidates := o.mergeResults(ctx, lookup, results)
	if len(candidates) == 0 {
		return &models.EnrichmentResult{
			Performed:   true,
			SearchTerms: terms,
			Message:     "no external sources found",
		}
	}

	message := fmt.Sprintf("found %d external sources", len(candidates))
	if failed > 0 {
		message += fmt.Sprintf(" (%d provider calls failed)", failed)
	}
	return &models.EnrichmentResult{
		Performed:   true,
		SearchTerms: terms,
		Candidates:  candidates,
		Message:     message,
	}
}

// mergeResults flattens provider results in slot order, drops
// non-content URLs, deduplicates by normalized URL and marks candidates
// already present in the tenant's knowledge base.
func (o *EnrichmentOrchestrator) mergeResults(ctx context.Context, lookup documentLookup, results [][]enrichment.Result) []models.EnrichmentCandidate {
	maxTotal := o.config.EnrichmentMaxSources * maxInt(len(o.providers), 1)

	seen := map[string]struct{}{}
	var candidates []models.EnrichmentCandidate
	var normalizedURLs []string

	for _, batch := range results {
		for _, r := range batch {
			if !usableResult(r) {
				continue
			}
			normalized, err := crawler.NormalizeURL(r.URL)
			if err != nil {
				continue
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			normalizedURLs = append(normalizedURLs, normalized)

			candidates = append(candidates, models.EnrichmentCandidate{
				URL:            normalized,
				Title:          strings.TrimSpace(r.Title),
				Summary:        strings.TrimSpace(r.Summary),
				SourceProvider: r.Provider,
			})
			if len(candidates) >= maxTotal {
				break
			}
		}
		if len(candidates) >= maxTotal {
			break
		}
	}

	if lookup != nil && len(normalizedURLs) > 0 {
		existing, err := lookup.ExistingSourceURLs(ctx, normalizedURLs)
		if err != nil {
			fmt.Printf("Enrichment existing-source check failed: %v\n", err)
		} else {
			for i := range candidates {
				candidates[i].AlreadyExists = existing[candidates[i].URL]
			}
		}
	}

	return candidates
}

// usableResult filters obvious non-content before merge.
func usableResult(r enrichment.Result) bool {
	u := strings.TrimSpace(strings.ToLower(r.URL))
	if u == "" || strings.TrimSpace(r.Title) == "" {
		return false
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return false
	}
	return true
}

// DeriveSearchTerms picks the terms for the provider fan-out. Evaluator
// suggestions win; the fallback distills significant words from the
// question and the missing-information text.
func DeriveSearchTerms(question, missingInfo string, suggested []string) []string {
	var terms []string
	for _, s := range suggested {
		s = strings.TrimSpace(s)
		if s != "" {
			terms = append(terms, s)
		}
		if len(terms) == 3 {
			return terms
		}
	}
	if len(terms) > 0 {
		return terms
	}

	if t := significantWords(question, 4); t != "" {
		terms = append(terms, t)
	}
	if t := significantWords(missingInfo, 4); t != "" && (len(terms) == 0 || t != terms[0]) {
		terms = append(terms, t)
	}
	return terms
}

// significantWords keeps up to max content-bearing words of a text.
func significantWords(text string, max int) string {
	filler := map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
		"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
		"with": true, "is": true, "are": true, "was": true, "were": true,
		"what": true, "when": true, "where": true, "which": true, "who": true,
		"why": true, "how": true, "does": true, "do": true, "did": true,
		"can": true, "could": true, "would": true, "should": true, "about": true,
		"tell": true, "me": true, "explain": true, "please": true,
	}

	var kept []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?()[]{}\"'")
		if len(word) < 3 || filler[word] {
			continue
		}
		kept = append(kept, word)
		if len(kept) == max {
			break
		}
	}
	return strings.Join(kept, " ")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
