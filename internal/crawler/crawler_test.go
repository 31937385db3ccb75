package crawler

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/Docs/", "https://example.com/Docs"},
		{"https://example.com:443/page", "https://example.com/page"},
		{"http://example.com:80/", "http://example.com/"},
		{"https://example.com/page#section", "https://example.com/page"},
		{"https://example.com", "https://example.com/"},
	}

	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURLStableForDuplicates(t *testing.T) {
	a, _ := NormalizeURL("https://example.com/guide/")
	b, _ := NormalizeURL("https://EXAMPLE.com:443/guide#intro")
	if a != b {
		t.Errorf("expected identical canonical forms, got %q and %q", a, b)
	}
}

func TestExtractPageMetadata(t *testing.T) {
	html := `<html lang="en"><head>
		<title>Fallback Title</title>
		<meta property="og:title" content="Sharding Postgres">
		<meta name="description" content="How we shard Postgres at scale.">
		<meta name="author" content="Jo Writer">
		<link rel="canonical" href="/blog/sharding">
		<script type="application/ld+json">{"datePublished":"2024-03-01"}</script>
	</head><body><h1>Sharding Postgres</h1></body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	meta := ExtractPageMetadata(doc.Selection, "https://example.com")

	if meta.Title != "Sharding Postgres" {
		t.Errorf("expected og:title to win, got %q", meta.Title)
	}
	if meta.Description != "How we shard Postgres at scale." {
		t.Errorf("unexpected description: %q", meta.Description)
	}
	if meta.Author != "Jo Writer" {
		t.Errorf("unexpected author: %q", meta.Author)
	}
	if meta.Language != "en" {
		t.Errorf("unexpected language: %q", meta.Language)
	}
	if meta.Canonical != "https://example.com/blog/sharding" {
		t.Errorf("canonical not resolved: %q", meta.Canonical)
	}
	if meta.Published != "2024-03-01" {
		t.Errorf("JSON-LD publish date not extracted: %q", meta.Published)
	}
}

func TestExtractMainContentSkipsChrome(t *testing.T) {
	html := `<html><body>
		<nav>Home About Contact</nav>
		<main>` + strings.Repeat("Useful knowledge base paragraph. ", 10) + `</main>
		<footer>Copyright</footer>
	</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	content := ExtractMainContent(doc.Selection)

	if strings.Contains(content, "Copyright") {
		t.Errorf("footer text should be removed")
	}
	if !strings.Contains(content, "Useful knowledge base paragraph.") {
		t.Errorf("main content missing")
	}
}
