package enrichment

import "context"

// Result is one external source suggested for filling a knowledge gap.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Provider string `json:"provider"`
}

// Provider searches one external knowledge source. Implementations are
// queried concurrently and treated as best-effort: a failing provider is
// logged and skipped, never surfaced as a request failure.
type Provider interface {
	Name() string
	Search(ctx context.Context, term string, limit int) ([]Result, error)
}
