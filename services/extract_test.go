package services

import (
	"context"
	"strings"
	"testing"

	"kb-search-platform/internal/config"
)

func newTestExtractor() *TextExtractor {
	return NewTextExtractor(&config.Config{})
}

func TestExtractPlainText(t *testing.T) {
	e := newTestExtractor()

	result, err := e.Extract(context.Background(), "notes.txt", []byte("Postgres uses MVCC for concurrency control.\n"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if result.Method != "plain" {
		t.Errorf("expected method plain, got %s", result.Method)
	}
	if result.WordCount != 6 {
		t.Errorf("expected 6 words, got %d", result.WordCount)
	}
	if strings.HasSuffix(result.Text, "\n") {
		t.Errorf("expected trimmed text, got %q", result.Text)
	}
}

func TestExtractMarkdownRoutesAsPlain(t *testing.T) {
	e := newTestExtractor()

	result, err := e.Extract(context.Background(), "README.md", []byte("# Title\n\nSome body text."))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result.Method != "plain" {
		t.Errorf("expected method plain for markdown, got %s", result.Method)
	}
}

func TestExtractHTMLStripsMarkup(t *testing.T) {
	e := newTestExtractor()

	html := `<html><head><script>var x = 1;</script><style>body{}</style></head>
<body><nav>Menu</nav><main><h1>Sharding</h1><p>Split data across nodes to scale writes.
The shard key determines placement for each row in the cluster.</p></main>
<footer>Copyright</footer></body></html>`

	result, err := e.Extract(context.Background(), "page.html", []byte(html))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if !strings.Contains(result.Text, "shard key") {
		t.Errorf("main content missing from extracted text: %q", result.Text)
	}
	for _, leaked := range []string{"var x", "Menu", "Copyright"} {
		if strings.Contains(result.Text, leaked) {
			t.Errorf("chrome %q leaked into extracted text", leaked)
		}
	}
}

func TestExtractRejectsUnsupportedType(t *testing.T) {
	e := newTestExtractor()

	if _, err := e.Extract(context.Background(), "video.mp4", []byte("data")); err == nil {
		t.Error("expected error for unsupported file type")
	}
	if _, err := e.Extract(context.Background(), "empty.txt", nil); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestIsSupportedFile(t *testing.T) {
	cases := map[string]bool{
		"report.PDF":  true,
		"notes.txt":   true,
		"guide.md":    true,
		"page.html":   true,
		"data.xlsx":   true,
		"archive.zip": false,
		"noext":       false,
	}
	for name, want := range cases {
		if got := IsSupportedFile(name); got != want {
			t.Errorf("IsSupportedFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestEvaluateTextQuality(t *testing.T) {
	e := newTestExtractor()

	good := "The quick brown fox jumps over the lazy dog. It ran for 1,000 meters in the park."
	if q := e.evaluateTextQuality(good); q < 0.7 {
		t.Errorf("expected clean prose to score >= 0.7, got %.2f", q)
	}

	corrupted := strings.Repeat("�� ", 50)
	if q := e.evaluateTextQuality(corrupted); q > 0.3 {
		t.Errorf("expected corrupted text to score low, got %.2f", q)
	}

	if q := e.evaluateTextQuality(""); q != 0 {
		t.Errorf("expected empty text to score 0, got %.2f", q)
	}
}
