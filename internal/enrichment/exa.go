package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ExaProvider queries the Exa neural search API for web sources.
type ExaProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewExaProvider creates an Exa search provider. Callers must not register
// the provider when the API key is empty.
func NewExaProvider(apiKey, baseURL string, timeout time.Duration) *ExaProvider {
	if baseURL == "" {
		baseURL = "https://api.exa.ai"
	}

	return &ExaProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *ExaProvider) Name() string {
	return "exa"
}

// Search runs a neural web search with text contents included.
func (p *ExaProvider) Search(ctx context.Context, term string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 3
	}

	payload := map[string]interface{}{
		"query":      term,
		"numResults": limit,
		"contents": map[string]interface{}{
			"text": true,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode exa request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create exa request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exa request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("exa search failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var searchResp struct {
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
			Text  string `json:"text"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode exa response: %w", err)
	}

	results := make([]Result, 0, len(searchResp.Results))
	for _, item := range searchResp.Results {
		results = append(results, Result{
			URL:      item.URL,
			Title:    item.Title,
			Summary:  summarizeText(item.Text, 300),
			Provider: p.Name(),
		})
	}

	return results, nil
}

// summarizeText collapses whitespace and truncates on a sentence boundary
// where one exists in the window, so summaries read cleanly in responses.
func summarizeText(text string, maxLen int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) <= maxLen {
		return collapsed
	}

	window := collapsed[:maxLen]
	if idx := strings.LastIndex(window, ". "); idx > 0 {
		return window[:idx+1]
	}

	return strings.TrimSpace(window) + "..."
}
