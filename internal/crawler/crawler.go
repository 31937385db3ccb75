package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"kb-search-platform/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/chromedp/chromedp"
	colly "github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"
)

const (
	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	defaultFetchTimeout = 60 * time.Second
	defaultMaxPages     = 50
	linksPerPage        = 20
	minContentWords     = 10
)

var crawlTransport = &http.Transport{DisableCompression: false}

// CrawlConfig controls one crawl run.
type CrawlConfig struct {
	URL            string
	MaxPages       int
	AllowedDomains []string
	AllowedPaths   []string
	FollowLinks    bool
	Timeout        time.Duration

	// Optional headless rendering of the start page for JS-heavy sites.
	RenderJS         bool
	RenderTimeout    time.Duration
	WaitSelector     string
	NetworkIdleAfter time.Duration
}

// CrawlResult is what a crawl run produced. Title and Content come from
// the first captured page; Pages holds everything within MaxPages.
type CrawlResult struct {
	URL          string
	Title        string
	Content      string
	Pages        []models.CrawledPage
	Error        error
	PagesFound   int
	PagesCrawled int
}

// NormalizeURL reduces a URL to its canonical form. The same form is used
// for crawl duplicate detection and for matching enrichment candidates
// against documents already in the knowledge base.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	// Default ports add nothing to identity.
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		u.Host = u.Hostname()
	}

	// A trailing slash only matters at the root.
	if p := strings.TrimSuffix(u.Path, "/"); p == "" {
		u.Path = "/"
	} else {
		u.Path = p
	}

	return u.String(), nil
}

// FetchPage fetches a single page without following links. This is the
// path behind URL ingestion and scheduled re-crawls of web documents.
func FetchPage(pageURL string, renderJS bool) (*CrawlResult, error) {
	return CrawlURL(CrawlConfig{URL: pageURL, MaxPages: 1, RenderJS: renderJS})
}

// CrawlURL crawls a URL, optionally following same-site links up to
// MaxPages.
func CrawlURL(cfg CrawlConfig) (*CrawlResult, error) {
	s, err := newSiteCrawl(cfg)
	if err != nil {
		return nil, err
	}
	return s.run()
}

// siteCrawl carries the state of one crawl run. colly invokes handlers
// from its own goroutines, so every mutable field sits behind mu.
type siteCrawl struct {
	cfg       CrawlConfig
	startURL  string
	domains   []string
	maxPages  int
	collector *colly.Collector

	mu         sync.Mutex
	pages      []models.CrawledPage
	firstTitle string
	firstBody  string
	firstDone  bool
	failure    error
	responses  int

	processed sync.Map
	queued    sync.Map
}

func newSiteCrawl(cfg CrawlConfig) (*siteCrawl, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
		cfg.URL = u.String()
	}

	start, err := NormalizeURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}

	domains := cfg.AllowedDomains
	if len(domains) == 0 {
		if host := u.Hostname(); host != "" {
			bare := strings.TrimPrefix(strings.ToLower(host), "www.")
			domains = []string{bare, "www." + bare, host}
		}
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	opts := []colly.CollectorOption{colly.Async(true), colly.MaxDepth(2)}
	if len(domains) > 0 {
		opts = append(opts, colly.AllowedDomains(domains...))
	}

	c := colly.NewCollector(opts...)
	c.WithTransport(crawlTransport)
	c.UserAgent = browserUA
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	} else {
		c.SetRequestTimeout(defaultFetchTimeout)
	}
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       2 * time.Second,
		RandomDelay: time.Second,
	})

	s := &siteCrawl{
		cfg:       cfg,
		startURL:  start,
		domains:   domains,
		maxPages:  maxPages,
		collector: c,
	}
	c.OnRequest(s.decorateRequest)
	c.OnResponse(s.decodeResponse)
	c.OnHTML("html", s.capturePage)
	c.OnError(s.classifyError)
	return s, nil
}

func (s *siteCrawl) run() (*CrawlResult, error) {
	result := &CrawlResult{URL: s.cfg.URL, Pages: []models.CrawledPage{}}

	s.queued.Store(s.startURL, true)

	if s.cfg.RenderJS {
		s.prerender()
	}

	fmt.Printf("🚀 Starting crawl: %s\n", s.startURL)
	if err := s.collector.Visit(s.startURL); err != nil {
		// The normalized form may differ from what the site expects.
		fmt.Printf("⚠️ Retrying with original URL: %s\n", s.cfg.URL)
		s.queued.Store(s.cfg.URL, true)
		if err := s.collector.Visit(s.cfg.URL); err != nil {
			if !strings.Contains(err.Error(), "already visited") {
				return nil, fmt.Errorf("failed to start crawl: %w", err)
			}
			s.collector.Wait()
			s.mu.Lock()
			captured := len(s.pages)
			s.mu.Unlock()
			if captured == 0 {
				return nil, fmt.Errorf("URL %s already visited with no pages processed", s.startURL)
			}
		}
	}

	s.collector.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	result.PagesFound = s.responses
	if len(s.pages) == 0 {
		if s.failure != nil {
			return nil, s.failure
		}
		if !s.firstDone {
			return nil, fmt.Errorf("initial URL %s was not processed", s.startURL)
		}
		return result, nil
	}

	result.Pages = s.pages
	result.PagesCrawled = len(s.pages)
	result.Title = s.firstTitle
	result.Content = s.firstBody
	return result, nil
}

// Sites behind bot protection reject bare Go clients, so every request
// carries a full browser header set.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
	"Accept-Language":           "en-US,en;q=0.9",
	"Accept-Encoding":           "gzip, deflate, br, zstd",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Sec-Ch-Ua":                 `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
	"Sec-Ch-Ua-Mobile":          "?0",
	"Sec-Ch-Ua-Platform":        `"Windows"`,
}

func (s *siteCrawl) decorateRequest(r *colly.Request) {
	for k, v := range browserHeaders {
		r.Headers.Set(k, v)
	}
	if u, err := url.Parse(r.URL.String()); err == nil {
		r.Headers.Set("Referer", fmt.Sprintf("%s://%s/", u.Scheme, u.Host))
	}
	r.Headers.Del("Cache-Control")
	r.Headers.Del("Pragma")
}

// decodeResponse undoes brotli (the stdlib transport only negotiates
// gzip) and converts legacy charsets to UTF-8 before colly parses the
// body.
func (s *siteCrawl) decodeResponse(r *colly.Response) {
	contentType := r.Headers.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml+xml") {
		return
	}

	if strings.Contains(r.Headers.Get("Content-Encoding"), "br") {
		if plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(r.Body))); err == nil {
			r.Body = plain
		}
	}

	if len(r.Body) > 0 {
		if utf8Reader, err := charset.NewReader(bytes.NewReader(r.Body), contentType); err == nil {
			if decoded, readErr := io.ReadAll(utf8Reader); readErr == nil && len(decoded) > 0 {
				r.Body = decoded
			}
		}
	}

	s.mu.Lock()
	s.responses++
	s.mu.Unlock()
}

func (s *siteCrawl) capturePage(e *colly.HTMLElement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pages) >= s.maxPages {
		return
	}

	pageURL, err := NormalizeURL(e.Request.URL.String())
	if err != nil {
		return
	}
	if _, seen := s.processed.LoadOrStore(pageURL, true); seen {
		return
	}

	meta := ExtractPageMetadata(e.DOM, pageURL)
	title := meta.Title
	if title == "" {
		title = strings.TrimSpace(e.DOM.Find("title").Text())
	}

	content := ExtractMainContent(e.DOM)
	if len(content) < 50 {
		content = e.DOM.Find("body").Text()
	}
	words := len(strings.Fields(content))
	if words < minContentWords {
		return
	}

	s.pages = append(s.pages, models.CrawledPage{
		URL:        pageURL,
		Title:      title,
		Content:    content,
		CrawledAt:  time.Now(),
		StatusCode: e.Response.StatusCode,
		Size:       int64(len(content)),
		WordCount:  words,
	})
	if len(s.pages) == 1 {
		s.firstTitle = title
		s.firstBody = content
		s.firstDone = true
	}

	if s.cfg.FollowLinks && len(s.pages) < s.maxPages {
		s.enqueueLinks(e)
	}
}

func (s *siteCrawl) enqueueLinks(e *colly.HTMLElement) {
	enqueued := 0
	e.DOM.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if enqueued >= linksPerPage || len(s.pages) >= s.maxPages {
			return
		}

		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(href, "#") || strings.HasPrefix(lower, "javascript:") ||
			strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}

		abs := e.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		link, err := NormalizeURL(abs)
		if err != nil || !s.allowed(link) {
			return
		}

		if _, pending := s.queued.LoadOrStore(link, true); pending {
			return
		}
		if _, seen := s.processed.Load(link); seen {
			return
		}

		enqueued++
		s.collector.Visit(link)
	})
}

// classifyError decides whether a fetch failure should fail the whole
// crawl. Only errors on the start URL with nothing captured are fatal;
// link-following errors just shrink the result.
func (s *siteCrawl) classifyError(r *colly.Response, err error) {
	reqURL := r.Request.URL.String()
	normURL, _ := NormalizeURL(reqURL)
	status := r.StatusCode
	isStart := normURL == s.startURL

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case status == http.StatusForbidden:
		fmt.Printf("⚠️ 403 Forbidden: %s\n", reqURL)
		if isStart {
			s.failure = fmt.Errorf("access forbidden (403): the site rejected the crawler, likely bot protection or restricted access")
		}
	case status == http.StatusTooManyRequests:
		fmt.Printf("⚠️ 429 rate limited: %s\n", reqURL)
		if isStart {
			s.failure = fmt.Errorf("rate limited (429): the site is throttling requests, try again later")
		}
	case status >= 500:
		fmt.Printf("⚠️ Server error %d: %s\n", status, reqURL)
		if isStart {
			s.failure = fmt.Errorf("server error (%d): the site failed to serve the page", status)
		}
	case strings.Contains(err.Error(), "already visited"):
		// colly reports re-visits as errors. Retry the raw URL form once
		// when the start page produced nothing.
		if _, seen := s.processed.Load(normURL); seen {
			return
		}
		if isStart && len(s.pages) == 0 {
			s.queued.Delete(normURL)
			s.collector.Visit(s.cfg.URL)
		}
	default:
		if isStart && len(s.pages) == 0 && s.failure == nil {
			msg := err.Error()
			switch {
			case strings.Contains(msg, "timeout") || strings.Contains(msg, "no such host"):
				s.failure = fmt.Errorf("network error reaching %s: %w", reqURL, err)
			case status != 0:
				s.failure = fmt.Errorf("HTTP error (%d): %w", status, err)
			default:
				s.failure = fmt.Errorf("failed to crawl %s: %w", s.startURL, err)
			}
		}
	}
}

// prerender drives a headless browser over the start page so client-side
// rendered sites still yield content, then feeds the HTML through the
// same extraction as fetched pages.
func (s *siteCrawl) prerender() {
	timeout := s.cfg.RenderTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	idle := s.cfg.NetworkIdleAfter
	if idle <= 0 {
		idle = 1200 * time.Millisecond
	}

	html, err := renderPageHTML(s.startURL, timeout, s.cfg.WaitSelector, idle)
	if err != nil {
		fmt.Printf("⚠️ JS render failed: %v\n", err)
		return
	}
	if html == "" {
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}

	meta := ExtractPageMetadata(doc.Selection, s.startURL)
	title := meta.Title
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").Text())
	}
	content := ExtractMainContent(doc.Selection)
	words := len(strings.Fields(content))
	if words < minContentWords {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed.Store(s.startURL, true)
	s.pages = append(s.pages, models.CrawledPage{
		URL:        s.startURL,
		Title:      title,
		Content:    content,
		CrawledAt:  time.Now(),
		StatusCode: http.StatusOK,
		Size:       int64(len(content)),
		WordCount:  words,
	})
	if len(s.pages) == 1 {
		s.firstTitle = title
		s.firstBody = content
		s.firstDone = true
	}
}

// renderPageHTML loads a page in headless Chrome and returns the DOM
// after readiness, optional selector, and network-idle waits. The waits
// soft-fail: a slow widget should not discard an otherwise rendered page.
func renderPageHTML(pageURL string, timeout time.Duration, waitSelector string, networkIdle time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(browserUA),
	)
	defer cancelAlloc()

	browser, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := chromedp.Run(browser, chromedp.Navigate(pageURL)); err != nil {
		return "", err
	}

	softRun(browser, 10*time.Second, chromedp.WaitReady("body", chromedp.ByQuery))
	if waitSelector != "" {
		softRun(browser, 15*time.Second, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	}
	if networkIdle > 0 {
		if networkIdle > 5*time.Second {
			networkIdle = 5 * time.Second
		}
		softRun(browser, networkIdle+time.Second, waitForNetworkIdle(networkIdle))
	}

	var html string
	if err := chromedp.Run(browser, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// softRun executes an action under its own deadline, ignoring failure.
func softRun(parent context.Context, timeout time.Duration, action chromedp.Action) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	_ = chromedp.Run(ctx, action)
}

// waitForNetworkIdle resolves once the page has seen no resource loads
// for the given window, observed from inside the page itself.
func waitForNetworkIdle(d time.Duration) chromedp.ActionFunc {
	js := `(function(waitMs){
      return new Promise((resolve)=>{
        if (!('PerformanceObserver' in window)) {
          setTimeout(resolve, waitMs);
          return;
        }
        let last = Date.now();
        const obs = new PerformanceObserver(()=>{ last = Date.now(); });
        try { obs.observe({entryTypes:['resource','navigation']}); } catch(e) {}
        const tick = () => {
          if (Date.now()-last >= waitMs) { try { obs.disconnect(); } catch(e){} resolve(); return; }
          setTimeout(tick, 100);
        };
        tick();
      });
    })(%d);`
	return func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(js, int(d.Milliseconds())), nil))
	}
}

// Elements that never carry article text.
const chromeSelectors = "script, style, nav, footer, header, aside, .nav, .navbar, .footer, .header, .sidebar, .advertisement, .ads, .skip-link"

// Semantic containers tried most-specific first.
var contentSelectors = []string{
	"main", "article", "[role='main']",
	".main-content", ".content", "#content", ".post", ".entry",
	"body",
}

// ExtractMainContent pulls readable text out of a page, preferring
// semantic containers and stripping navigation chrome.
func ExtractMainContent(selection *goquery.Selection) string {
	doc := selection.Clone()
	doc.Find(chromeSelectors).Remove()

	var buf strings.Builder
	for _, sel := range contentSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); len(text) > 100 {
				buf.WriteString(text)
				buf.WriteString("\n\n")
			}
		})
		if buf.Len() > 0 {
			break
		}
	}
	if buf.Len() == 0 {
		buf.WriteString(doc.Find("body").Text())
	}

	return collapseBlankLines(buf.String())
}

func collapseBlankLines(text string) string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Asset and machine endpoints that never hold knowledge base content.
var skipURLPatterns = []string{
	"/wp-json/", "/api/", "/ajax/",
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".css", ".js", ".xml",
	"/feed/", "/rss/", "/atom/",
	"/search?", "/?s=",
	"/wp-admin/", "/wp-includes/",
}

func (s *siteCrawl) allowed(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if len(s.domains) > 0 && !domainAllowed(u.Hostname(), s.domains) {
		return false
	}
	if len(s.cfg.AllowedPaths) > 0 && !pathAllowed(u.Path, s.cfg.AllowedPaths) {
		return false
	}

	path := strings.ToLower(u.Path)
	query := strings.ToLower(u.RawQuery)
	for _, pattern := range skipURLPatterns {
		if strings.Contains(path, pattern) || strings.Contains(query, pattern) {
			return false
		}
	}
	return true
}

func domainAllowed(hostname string, domains []string) bool {
	host := strings.TrimPrefix(strings.ToLower(hostname), "www.")
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(d), "www.")
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func pathAllowed(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
