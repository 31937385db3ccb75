package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"kb-search-platform/internal/config"
)

// ocrConfidenceThreshold is sent with every extraction request; the sidecar
// drops words recognized below it rather than guessing.
const ocrConfidenceThreshold = 0.7

// healthProbeTTL bounds how long a successful health probe is trusted.
const healthProbeTTL = 30 * time.Second

// OCRClient talks to the optional OCR sidecar. It is the last rung of the
// PDF extraction ladder, for scanned documents where neither pdftotext nor
// the pure Go reader finds usable text.
type OCRClient struct {
	httpClient *http.Client
	baseURL    string

	mu          sync.Mutex
	lastHealthy time.Time
}

// ocrResult is the sidecar's extraction payload.
type ocrResult struct {
	Success        bool    `json:"success"`
	Text           string  `json:"text"`
	Pages          int     `json:"pages"`
	ProcessingTime float64 `json:"processing_time"`
	QualityScore   float64 `json:"quality_score"`
	WordCount      int     `json:"word_count"`
	CharacterCount int     `json:"character_count"`
	Language       string  `json:"language"`
	Error          string  `json:"error,omitempty"`
}

func NewOCRClient(cfg *config.Config) *OCRClient {
	return &OCRClient{
		// Scanned documents routinely take minutes per hundred pages.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    cfg.OCRServiceURL,
	}
}

// Enabled reports whether an OCR sidecar is configured at all.
func (c *OCRClient) Enabled() bool {
	return c.baseURL != ""
}

// ensureHealthy probes the sidecar's health endpoint, trusting a recent
// success so back-to-back extractions pay for one probe, not one each.
func (c *OCRClient) ensureHealthy(ctx context.Context) error {
	c.mu.Lock()
	fresh := time.Since(c.lastHealthy) < healthProbeTTL
	c.mu.Unlock()
	if fresh {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ocr health probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ocr health probe: status %d", resp.StatusCode)
	}

	var health struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("ocr health probe: %w", err)
	}
	if health.Status != "healthy" || !health.ModelLoaded {
		return fmt.Errorf("ocr sidecar not ready: status=%s model_loaded=%t", health.Status, health.ModelLoaded)
	}

	c.mu.Lock()
	c.lastHealthy = time.Now()
	c.mu.Unlock()
	return nil
}

// ExtractBytes runs OCR over raw file content and maps the response onto
// the extractor's result shape.
func (c *OCRClient) ExtractBytes(ctx context.Context, filename string, content []byte) (*ExtractionResult, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ocr sidecar not configured")
	}
	if err := c.ensureHealthy(ctx); err != nil {
		return nil, err
	}

	body, contentType, err := ocrForm(filename, content)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr/extract", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ocr request: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var result ocrResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ocr response: %w", err)
	}

	fmt.Printf("📊 OCR response: success=%t quality=%.2f chars=%d\n",
		result.Success, result.QualityScore, len(result.Text))

	if !result.Success {
		return nil, fmt.Errorf("ocr processing failed: %s", result.Error)
	}

	return &ExtractionResult{
		Text:           result.Text,
		Pages:          result.Pages,
		Method:         "ocr",
		QualityScore:   result.QualityScore,
		ProcessingTime: time.Duration(result.ProcessingTime * float64(time.Second)),
		WordCount:      result.WordCount,
		CharacterCount: result.CharacterCount,
		Language:       result.Language,
	}, nil
}

// ocrForm builds the multipart upload the sidecar expects.
func ocrForm(filename string, content []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("confidence_threshold", fmt.Sprintf("%.2f", ocrConfidenceThreshold)); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}
