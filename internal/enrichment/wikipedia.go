package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// WikipediaProvider queries the MediaWiki search API. It needs no API key,
// which makes it the always-available half of the enrichment pair.
type WikipediaProvider struct {
	apiURL     string
	httpClient *http.Client
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// NewWikipediaProvider creates a Wikipedia search provider. apiURL points at
// a MediaWiki api.php endpoint, timeout bounds each search call.
func NewWikipediaProvider(apiURL string, timeout time.Duration) *WikipediaProvider {
	if apiURL == "" {
		apiURL = "https://en.wikipedia.org/w/api.php"
	}

	return &WikipediaProvider{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *WikipediaProvider) Name() string {
	return "wikipedia"
}

// Search runs a full-text search and returns cleaned article summaries.
func (p *WikipediaProvider) Search(ctx context.Context, term string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 3
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", term)
	params.Set("srlimit", fmt.Sprintf("%d", limit))
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, "GET", p.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create wikipedia request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia search failed with status %d", resp.StatusCode)
	}

	var searchResp struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
				PageID  int    `json:"pageid"`
			} `json:"search"`
		} `json:"query"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode wikipedia response: %w", err)
	}

	results := make([]Result, 0, len(searchResp.Query.Search))
	for _, item := range searchResp.Query.Search {
		results = append(results, Result{
			URL:      p.articleURL(item.Title),
			Title:    item.Title,
			Summary:  cleanSnippet(item.Snippet),
			Provider: p.Name(),
		})
	}

	return results, nil
}

// articleURL builds the canonical article URL from the API endpoint, so a
// configured language mirror yields links on the same host.
func (p *WikipediaProvider) articleURL(title string) string {
	base := strings.TrimSuffix(p.apiURL, "/w/api.php")
	if base == p.apiURL {
		base = "https://en.wikipedia.org"
	}
	return base + "/wiki/" + strings.ReplaceAll(title, " ", "_")
}

// cleanSnippet strips the search-match highlight markup MediaWiki embeds in
// snippets and unescapes HTML entities.
func cleanSnippet(snippet string) string {
	text := htmlTagPattern.ReplaceAllString(snippet, "")
	return strings.TrimSpace(html.UnescapeString(text))
}
