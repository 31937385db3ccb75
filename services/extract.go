package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"kb-search-platform/internal/config"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// TextExtractor turns uploaded files into plain text ready for chunking.
// PDF extraction runs multiple methods and keeps the best result by
// quality score; other formats have a single deterministic path.
type TextExtractor struct {
	config *config.Config
	ocr    *OCRClient
}

// NewTextExtractor creates a new text extractor
func NewTextExtractor(cfg *config.Config) *TextExtractor {
	return &TextExtractor{config: cfg, ocr: NewOCRClient(cfg)}
}

// ExtractionResult contains the result of text extraction
type ExtractionResult struct {
	Text           string
	Pages          int
	Method         string
	QualityScore   float64
	ProcessingTime time.Duration
	WordCount      int
	CharacterCount int
	Language       string
}

// SupportedExtensions lists the file types Extract accepts.
var SupportedExtensions = []string{".pdf", ".txt", ".md", ".html", ".htm", ".xlsx"}

// IsSupportedFile reports whether the filename has an ingestable extension.
func IsSupportedFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Extract extracts text from file content, routing on the file extension.
func (e *TextExtractor) Extract(ctx context.Context, filename string, content []byte) (*ExtractionResult, error) {
	start := time.Now()

	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) <= 0 {
			return nil, fmt.Errorf("context deadline exceeded before extraction")
		}
	}

	if len(content) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if len(content) > 200<<20 { // 200MB safety cap
		return nil, fmt.Errorf("file too large for in-memory extraction")
	}

	ext := strings.ToLower(filepath.Ext(filename))

	var result *ExtractionResult
	var err error

	switch ext {
	case ".pdf":
		result, err = e.extractPDF(ctx, filename, content)
	case ".txt", ".md":
		result, err = e.extractPlainText(content)
	case ".html", ".htm":
		result, err = e.extractHTML(content)
	case ".xlsx":
		result, err = e.extractXLSX(content)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", ext)
	}

	if err != nil {
		return nil, err
	}

	result.ProcessingTime = time.Since(start)
	e.analyzeText(result)
	return result, nil
}

type pdfMethod struct {
	name    string
	extract func(context.Context, []byte) (*ExtractionResult, error)
}

// extractPDF tries extraction methods in order of preference and keeps
// the first result whose quality clears 0.7, else the best attempt.
// Scanned PDFs have no text layer, so a configured OCR sidecar joins
// the ladder as the last rung.
func (e *TextExtractor) extractPDF(ctx context.Context, filename string, content []byte) (*ExtractionResult, error) {
	methods := []pdfMethod{
		{"poppler", e.extractWithPoppler},
		{"go-pdf", e.extractWithGoPDF},
	}
	if e.ocr.Enabled() {
		methods = append(methods, pdfMethod{"ocr", func(ctx context.Context, content []byte) (*ExtractionResult, error) {
			return e.ocr.ExtractBytes(ctx, filename, content)
		}})
	}

	var lastErr error
	var bestResult *ExtractionResult

	for _, method := range methods {
		result, err := method.extract(ctx, content)
		if err != nil {
			fmt.Printf("%s extraction failed: %v\n", method.name, err)
			lastErr = err
			continue
		}

		result.Method = method.name
		result.QualityScore = e.evaluateTextQuality(result.Text)

		fmt.Printf("%s extraction: %d chars, quality: %.2f\n", method.name, len(result.Text), result.QualityScore)

		if result.QualityScore >= 0.7 {
			return result, nil
		}
		if bestResult == nil || result.QualityScore > bestResult.QualityScore {
			bestResult = result
		}
	}

	if bestResult != nil && bestResult.QualityScore >= 0.3 {
		fmt.Printf("Using best available result with quality %.2f\n", bestResult.QualityScore)
		return bestResult, nil
	}

	return nil, fmt.Errorf("all extraction methods failed: %v", lastErr)
}

// extractWithPoppler uses poppler-utils (pdftotext) for extraction
func (e *TextExtractor) extractWithPoppler(ctx context.Context, content []byte) (*ExtractionResult, error) {
	if !e.hasBinary("pdftotext") {
		return nil, fmt.Errorf("pdftotext not available")
	}

	extractCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(extractCtx, "pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(content)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext failed: %v, stderr: %s", err, stderr.String())
	}

	extractedText := stdout.String()
	if len(extractedText) == 0 {
		return nil, fmt.Errorf("no text extracted by pdftotext")
	}

	return &ExtractionResult{
		Text:  extractedText,
		Pages: e.guessPageCount(extractedText),
	}, nil
}

// extractWithGoPDF uses the Go PDF library for extraction
func (e *TextExtractor) extractWithGoPDF(ctx context.Context, content []byte) (*ExtractionResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var textBuilder strings.Builder
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			fmt.Printf("Warning: failed to extract text from page %d: %v\n", i, err)
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}

	extractedText := textBuilder.String()
	if len(strings.TrimSpace(extractedText)) == 0 {
		return nil, fmt.Errorf("no text extracted by go-pdf")
	}

	return &ExtractionResult{
		Text:  extractedText,
		Pages: pages,
	}, nil
}

// extractPlainText handles .txt and .md files
func (e *TextExtractor) extractPlainText(content []byte) (*ExtractionResult, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("file is not valid UTF-8 text")
	}

	text := strings.TrimSpace(string(content))
	if len(text) == 0 {
		return nil, fmt.Errorf("file contains no text")
	}

	return &ExtractionResult{
		Text:         text,
		Pages:        1,
		Method:       "plain",
		QualityScore: 1.0,
	}, nil
}

// extractHTML strips markup and keeps the main content of the page.
func (e *TextExtractor) extractHTML(content []byte) (*ExtractionResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	var text string
	for _, selector := range []string{"main", "article", "[role=main]", "#content", ".content", "body"} {
		sel := doc.Find(selector).First()
		if sel.Length() > 0 {
			text = strings.TrimSpace(sel.Text())
			if len(text) > 100 {
				break
			}
		}
	}
	if text == "" {
		text = strings.TrimSpace(doc.Text())
	}
	if len(text) == 0 {
		return nil, fmt.Errorf("no text content in HTML")
	}

	// Collapse runs of blank lines left behind by removed elements
	text = regexp.MustCompile(`\n{3,}`).ReplaceAllString(text, "\n\n")
	text = regexp.MustCompile(`[ \t]{2,}`).ReplaceAllString(text, " ")

	result := &ExtractionResult{
		Text:  text,
		Pages: 1,
	}
	result.Method = "html"
	result.QualityScore = e.evaluateTextQuality(text)
	return result, nil
}

// extractXLSX flattens spreadsheet rows into tab-separated lines,
// one paragraph per sheet so chunking keeps sheets together.
func (e *TextExtractor) extractXLSX(content []byte) (*ExtractionResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var textBuilder strings.Builder
	sheets := f.GetSheetList()

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			fmt.Printf("Warning: failed to read sheet %s: %v\n", sheet, err)
			continue
		}

		if textBuilder.Len() > 0 {
			textBuilder.WriteString("\n\n")
		}
		textBuilder.WriteString(sheet)
		textBuilder.WriteString("\n")

		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			textBuilder.WriteString(line)
			textBuilder.WriteString("\n")
		}
	}

	text := strings.TrimSpace(textBuilder.String())
	if len(text) == 0 {
		return nil, fmt.Errorf("workbook contains no data")
	}

	return &ExtractionResult{
		Text:         text,
		Pages:        len(sheets),
		Method:       "xlsx",
		QualityScore: 1.0,
	}, nil
}

// evaluateTextQuality assesses the quality of extracted text
func (e *TextExtractor) evaluateTextQuality(text string) float64 {
	if len(text) == 0 {
		return 0.0
	}

	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return 0.1
	}

	var alphanumeric, printable, corrupted int

	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			alphanumeric++
			printable++
		case r == ' ' || r == '\n' || r == '\t':
			printable++
		case r == '.' || r == ',' || r == ';' || r == ':' || r == '!' || r == '?' || r == '-' || r == '_':
			printable++
		case r == '�':
			corrupted++
		case r >= 32 && r <= 126:
			printable++
		default:
			if r > 127 && !e.isCommonUnicodeChar(r) {
				corrupted++
			} else {
				printable++
			}
		}
	}

	total := len([]rune(text))
	if total == 0 {
		return 0.0
	}

	alphanumericRatio := float64(alphanumeric) / float64(total)
	printableRatio := float64(printable) / float64(total)
	corruptedRatio := float64(corrupted) / float64(total)

	score := printableRatio * 0.4

	if alphanumericRatio >= 0.3 {
		score += 0.3
	} else {
		score += alphanumericRatio
	}

	score -= corruptedRatio * 2.0

	if len(text) > 100 {
		score += 0.1
	}

	if e.hasGoodPatterns(text) {
		score += 0.2
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return score
}

// isCommonUnicodeChar checks if a character is a common Unicode character
func (e *TextExtractor) isCommonUnicodeChar(r rune) bool {
	common := []rune{'—', '"', '"', '‘', '’', '…', '€', '£', '¥', '©', '®', '™'}
	for _, c := range common {
		if r == c {
			return true
		}
	}
	return false
}

// hasGoodPatterns checks for patterns that indicate good text extraction
func (e *TextExtractor) hasGoodPatterns(text string) bool {
	patterns := []string{
		`\b[A-Z][a-z]+\b`,       // Capitalized words
		`\b\d{1,3}[,.]?\d{3}\b`, // Numbers with separators
		`[.!?]\s+[A-Z]`,         // Sentence boundaries
		`\b(the|and|or|of|to|in|for|with|on|at|by|from)\b`, // Common words
	}

	goodPatterns := 0
	for _, pattern := range patterns {
		if matched, _ := regexp.MatchString(pattern, text); matched {
			goodPatterns++
		}
	}

	return goodPatterns >= 3
}

// analyzeText fills in word, character and language fields
func (e *TextExtractor) analyzeText(result *ExtractionResult) {
	text := result.Text

	words := strings.Fields(text)
	result.WordCount = len(words)
	result.CharacterCount = len(text)
	result.Language = e.detectLanguage(text)
}

// detectLanguage performs simple language detection
func (e *TextExtractor) detectLanguage(text string) string {
	lowerText := strings.ToLower(text)

	englishWords := []string{"the", "and", "or", "of", "to", "in", "for", "with", "on", "at"}
	englishCount := 0
	for _, word := range englishWords {
		englishCount += strings.Count(lowerText, " "+word+" ")
	}

	if englishCount > 10 {
		return "en"
	}

	return "unknown"
}

// guessPageCount estimates page count from form feeds or text length
func (e *TextExtractor) guessPageCount(text string) int {
	if count := strings.Count(text, "\f"); count > 0 {
		return count + 1
	}

	charCount := len(text)
	switch {
	case charCount < 1000:
		return 1
	case charCount < 5000:
		return charCount / 2000
	default:
		return charCount / 3000
	}
}

// hasBinary checks if a binary executable exists in PATH
func (e *TextExtractor) hasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
