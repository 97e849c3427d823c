package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mailtriage/pkg/logger"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/otel"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
	DefaultTimeout = 60 * time.Second
)

// Request is one chat completion. Op only labels metrics and logs.
type Request struct {
	Op     string
	System string
	Prompt string
	// JSON asks the provider for a json_object response.
	JSON bool
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Config struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// Client talks to any OpenAI-compatible chat completion API (Groq by default).
type Client struct {
	api         *openai.Client
	cb          *gobreaker.CircuitBreaker
	model       string
	timeout     time.Duration
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = baseURL

	cbSettings := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,                // Half-open 状态下只放行一个探测请求
		Interval:    60 * time.Second, // Closed 状态下计数重置间隔
		Timeout:     30 * time.Second, // Open 状态持续时间
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 限流和调用方取消不代表服务故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || isStatus(err, http.StatusTooManyRequests)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
		model:       model,
		timeout:     timeout,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		logger:      log,
	}
}

// Generate runs one completion bounded by the client timeout.
func (c *Client) Generate(ctx context.Context, req Request) (_ string, err error) {
	ctx, span := otel.StartSpan(ctx, "llm."+req.Op, attribute.String("llm.model", c.model))
	defer func() { otel.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.complete(ctx, req)
	})
	err = classify(err)

	status := "success"
	switch {
	case err == nil:
	case IsRateLimit(err):
		status = "rate_limited"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = "circuit_open"
	default:
		status = "error"
	}
	metrics.RecordLLMCallLatency(req.Op, status, time.Since(start))

	if err != nil {
		logger.WithTrace(ctx, c.logger).Warn("LLM call failed",
			zap.String("op", req.Op),
			zap.String("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return "", err
	}
	return result.(string), nil
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// classify turns provider 429s into *RateLimitError and tags an open breaker.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(apiErr.Message), Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(reqErr.Error()), Err: err}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("llm unavailable: %w", err)
	}
	return fmt.Errorf("llm call failed: %w", err)
}

func isStatus(err error, status int) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == status
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == status
	}
	return false
}
