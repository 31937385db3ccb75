package crawler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// PageMetadata is descriptive metadata extracted from a crawled page. It
// annotates the document record so answers can cite sources by title.
type PageMetadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	Language    string    `json:"language,omitempty"`
	Canonical   string    `json:"canonical,omitempty"`
	Published   string    `json:"published,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// ExtractPageMetadata extracts structured metadata from a parsed page.
// It accepts a Selection so both the colly and the chromedp paths can
// feed it their DOM roots.
func ExtractPageMetadata(sel *goquery.Selection, pageURL string) *PageMetadata {
	meta := &PageMetadata{
		ExtractedAt: time.Now(),
	}

	// Extract title (common selectors, most specific first)
	titleSelectors := []string{
		"meta[property='og:title']",
		"h1[itemprop='headline']",
		"h1.article-title",
		"h1",
		"title",
	}

	for _, selector := range titleSelectors {
		title := ""
		if strings.HasPrefix(selector, "meta") {
			title, _ = sel.Find(selector).Attr("content")
		} else {
			title = strings.TrimSpace(sel.Find(selector).First().Text())
		}
		if title != "" {
			meta.Title = title
			break
		}
	}

	// Extract description
	descSelectors := []string{
		"meta[name='description']",
		"meta[property='og:description']",
		"[itemprop='description']",
	}

	for _, selector := range descSelectors {
		desc := ""
		if strings.HasPrefix(selector, "meta") {
			desc, _ = sel.Find(selector).Attr("content")
		} else {
			desc = strings.TrimSpace(sel.Find(selector).First().Text())
		}
		if desc != "" {
			meta.Description = desc
			break
		}
	}

	// Extract author
	authorSelectors := []string{
		"meta[name='author']",
		"[itemprop='author']",
		".author-name",
		".byline",
	}

	for _, selector := range authorSelectors {
		author := ""
		if strings.HasPrefix(selector, "meta") {
			author, _ = sel.Find(selector).Attr("content")
		} else {
			author = strings.TrimSpace(sel.Find(selector).First().Text())
		}
		if author != "" {
			meta.Author = author
			break
		}
	}

	// Extract language and canonical link. Find only walks descendants,
	// so when the selection is the html element itself read it directly.
	if lang, exists := sel.Find("html").Attr("lang"); exists {
		meta.Language = lang
	} else if lang, exists := sel.Attr("lang"); exists {
		meta.Language = lang
	}
	if canonical, exists := sel.Find("link[rel='canonical']").Attr("href"); exists {
		meta.Canonical = resolveURL(pageURL, canonical)
	}

	// Fill gaps from JSON-LD structured data
	sel.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		jsonText := s.Text()
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(jsonText), &data); err == nil {
			if headline, ok := data["headline"].(string); ok && meta.Title == "" {
				meta.Title = headline
			}
			if name, ok := data["name"].(string); ok && meta.Title == "" {
				meta.Title = name
			}
			if desc, ok := data["description"].(string); ok && meta.Description == "" {
				meta.Description = desc
			}
			if author, ok := extractAuthorFromJSON(data); ok && meta.Author == "" {
				meta.Author = author
			}
			if published, ok := data["datePublished"].(string); ok && meta.Published == "" {
				meta.Published = published
			}
		}
	})

	// Clean up extracted data
	meta.Title = strings.TrimSpace(meta.Title)
	meta.Description = strings.TrimSpace(meta.Description)
	meta.Author = strings.TrimSpace(meta.Author)

	return meta
}

// Helper functions

func extractAuthorFromJSON(data map[string]interface{}) (string, bool) {
	switch author := data["author"].(type) {
	case string:
		return author, true
	case map[string]interface{}:
		if name, ok := author["name"].(string); ok {
			return name, true
		}
	case []interface{}:
		if len(author) > 0 {
			if first, ok := author[0].(map[string]interface{}); ok {
				if name, ok := first["name"].(string); ok {
					return name, true
				}
			}
		}
	}
	return "", false
}

func resolveURL(baseURL, relativeURL string) string {
	if strings.HasPrefix(relativeURL, "http://") || strings.HasPrefix(relativeURL, "https://") {
		return relativeURL
	}
	if strings.HasPrefix(relativeURL, "/") {
		return strings.TrimSuffix(baseURL, "/") + relativeURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + relativeURL
}
