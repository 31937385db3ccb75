package crawler

import (
	"testing"
	"time"
)

// Needs Chrome and network access; skips where either is missing.
func TestCrawlURLWithJSRendering(t *testing.T) {
	cfg := CrawlConfig{
		URL:              "https://example.com/",
		RenderJS:         true,
		RenderTimeout:    15 * time.Second,
		WaitSelector:     "body",
		NetworkIdleAfter: 500 * time.Millisecond,
		MaxPages:         1,
		FollowLinks:      false,
	}

	res, err := CrawlURL(cfg)
	if err != nil {
		t.Skipf("JS rendering unavailable in this environment: %v", err)
	}
	if res == nil || len(res.Pages) == 0 {
		t.Fatal("expected at least one rendered page")
	}

	page := res.Pages[0]
	if page.URL == "" {
		t.Error("rendered page has no URL")
	}
	if page.Content == "" {
		t.Error("rendered page has no content")
	}
}
