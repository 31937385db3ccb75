package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// ErrLLMUnavailable is returned when the generation call cannot be served,
// including when the circuit breaker is open. Callers surface this as their
// own stage failure; there is no canned fallback answer.
var ErrLLMUnavailable = errors.New("llm unavailable")

type LLMClient struct {
	apiKey       string
	model        string
	breaker      *gobreaker.CircuitBreaker
	rateLimiter  *rate.Limiter
	tokenCounter *TokenCounter
	client       *genai.Client
	tier         string
}

type TokenCounter struct {
	mu              sync.Mutex
	minuteTokens    int
	dailyTokens     int
	minuteRequests  int
	dailyRequests   int
	lastMinuteReset time.Time
	lastDayReset    time.Time
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func NewLLMClient(apiKey, model, tier string) (*LLMClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	// Configure rate limits based on tier
	limits := getRateLimits(tier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
			if to == gobreaker.StateOpen {
				alertOps("Gemini API circuit breaker opened - service degraded")
			}
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10)

	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &LLMClient{
		apiKey:       apiKey,
		model:        model,
		breaker:      breaker,
		rateLimiter:  rateLimiter,
		tokenCounter: &TokenCounter{},
		client:       client,
		tier:         tier,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// Complete runs one free-form generation call and returns the response text.
func (lc *LLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := lc.generate(ctx, prompt, false)
	if err != nil {
		return "", err
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrLLMUnavailable)
	}
	return text, nil
}

// CompleteJSON runs a structured-output generation call and unmarshals the
// JSON payload into out. Markdown code fences around the payload are
// tolerated since models occasionally add them despite the MIME hint.
func (lc *LLMClient) CompleteJSON(ctx context.Context, prompt string, out interface{}) error {
	resp, err := lc.generate(ctx, prompt, true)
	if err != nil {
		return err
	}

	payload := stripCodeFence(responseText(resp))
	if payload == "" {
		return fmt.Errorf("%w: empty structured response", ErrLLMUnavailable)
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("failed to parse structured response: %w", err)
	}
	return nil
}

func (lc *LLMClient) generate(ctx context.Context, prompt string, structured bool) (*genai.GenerateContentResponse, error) {
	if lc == nil || lc.client == nil {
		return nil, fmt.Errorf("%w: no client configured", ErrLLMUnavailable)
	}

	// Create tracing span
	tracer := otel.Tracer("llm-client")
	ctx, span := tracer.Start(ctx, "llm.generate")
	defer span.End()

	// Estimate tokens BEFORE making request
	estimatedTokens := estimateTokens(prompt)
	span.SetAttributes(
		attribute.Int("llm.estimated_tokens", estimatedTokens),
		attribute.Bool("llm.structured", structured),
		attribute.String("llm.model", lc.model),
	)

	// Check token limits
	if !lc.tokenCounter.CanConsume(estimatedTokens, 1) {
		span.SetAttributes(attribute.Bool("llm.rate_limited", true))
		return nil, fmt.Errorf("%w: rate limit exceeded", ErrLLMUnavailable)
	}

	// Rate limiter wait
	if err := lc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("llm.rate_limited", true))
		return nil, err
	}

	// Circuit breaker execution
	result, err := lc.breaker.Execute(func() (interface{}, error) {
		model := lc.client.GenerativeModel(lc.model)
		if structured {
			model.SetTemperature(0.2)
			model.ResponseMIMEType = "application/json"
		} else {
			model.SetTemperature(0.7)
		}
		model.SetMaxOutputTokens(2048)

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			span.SetAttributes(attribute.Bool("llm.error", true))
			span.SetAttributes(attribute.String("llm.error_message", err.Error()))
			return nil, err
		}

		// Get ACTUAL token usage from response
		actualTokens := extractTokenUsage(resp)
		lc.tokenCounter.RecordUsage(actualTokens, 1)

		span.SetAttributes(
			attribute.Int("llm.actual_tokens", actualTokens),
		)

		return resp, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			span.SetAttributes(attribute.Bool("llm.circuit_breaker_open", true))
			return nil, fmt.Errorf("%w: circuit breaker open", ErrLLMUnavailable)
		}
		span.SetAttributes(attribute.Bool("llm.error", true))
		return nil, err
	}

	span.SetAttributes(attribute.Bool("llm.success", true))
	return result.(*genai.GenerateContentResponse), nil
}

func (tc *TokenCounter) CanConsume(tokens, requests int) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := time.Now()

	// Reset counters if time windows expired
	if now.Sub(tc.lastMinuteReset) >= time.Minute {
		tc.minuteTokens = 0
		tc.minuteRequests = 0
		tc.lastMinuteReset = now
	}

	if now.Sub(tc.lastDayReset) >= 24*time.Hour {
		tc.dailyTokens = 0
		tc.dailyRequests = 0
		tc.lastDayReset = now
	}

	// Check limits - using free tier limits for now
	limits := RateLimits{RPM: 10, TPM: 250000, RPD: 250}

	if tc.minuteRequests+requests > limits.RPM {
		return false
	}
	if tc.minuteTokens+tokens > limits.TPM {
		return false
	}
	if tc.dailyRequests+requests > limits.RPD {
		return false
	}

	return true
}

func (tc *TokenCounter) RecordUsage(tokens, requests int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.minuteTokens += tokens
	tc.minuteRequests += requests
	tc.dailyTokens += tokens
	tc.dailyRequests += requests
}

// Rough token estimation: 1 token ≈ 4 characters
func estimateTokens(prompt string) int {
	return len(prompt) / 4
}

// EstimateTokens exposes the same estimate for pre-flight budget checks.
func EstimateTokens(text string) int {
	return estimateTokens(text)
}

// Extract token usage from Gemini response
func extractTokenUsage(resp *genai.GenerateContentResponse) int {
	// Try to extract actual usage from response metadata
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}

	// Fallback: estimate from response text at ~4 characters per token
	estimated := len(responseText(resp)) / 4
	if estimated < 1 {
		estimated = 1 // Minimum 1 token
	}

	return estimated
}

// responseText flattens all text parts of a Gemini response.
func responseText(resp *genai.GenerateContentResponse) string {
	var result strings.Builder

	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					result.WriteString(string(text))
				}
			}
		}
	}

	return result.String()
}

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// Alert operations team
func alertOps(message string) {
	log.Printf("🚨 ALERT: %s", message)
	// In production, send to monitoring service (PagerDuty, Slack, etc.)
}

// Close the client
func (lc *LLMClient) Close() error {
	if lc.client != nil {
		return lc.client.Close()
	}
	return nil
}
