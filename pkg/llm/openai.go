package llm

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/tombee/cascade/pkg/errors"
)

const (
	// defaultRequestTimeout bounds a single completion request.
	defaultRequestTimeout = 180 * time.Second

	// defaultMaxTokens limits response length when not configured.
	defaultMaxTokens = 4000
)

// OpenAIConfig holds configuration for the OpenAI-compatible adapter.
type OpenAIConfig struct {
	// APIKey authenticates against the provider.
	APIKey string

	// BaseURL overrides the API endpoint, for OpenAI-compatible
	// gateways that front other models.
	BaseURL string

	// RequestTimeout bounds each completion call. Zero means the
	// default of 180s.
	RequestTimeout time.Duration

	// MaxTokens limits response length. Zero means the default.
	MaxTokens int

	// Temperature is the sampling temperature for completions.
	Temperature float32

	// RequestsPerMinute paces outbound calls to stay under provider
	// rate limits. Zero disables client-side pacing.
	RequestsPerMinute int
}

// OpenAIInvoker implements Invoker against any OpenAI-compatible chat
// completions API.
type OpenAIInvoker struct {
	client      *openai.Client
	timeout     time.Duration
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewOpenAIInvoker creates an adapter from the given configuration.
func NewOpenAIInvoker(cfg OpenAIConfig) (*OpenAIInvoker, error) {
	if cfg.APIKey == "" {
		return nil, &errors.ConfigError{
			Key:    "llm.api_key",
			Reason: "API key not provided (set CASCADE_LLM_API_KEY or llm.api_key)",
		}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &OpenAIInvoker{
		client:      openai.NewClientWithConfig(clientCfg),
		timeout:     timeout,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		limiter:     limiter,
		logger:      slog.Default(),
	}, nil
}

// WithLogger sets a custom logger for the adapter.
func (o *OpenAIInvoker) WithLogger(logger *slog.Logger) *OpenAIInvoker {
	o.logger = logger
	return o
}

// Invoke sends a single-message chat completion request and returns the
// generated text with token usage. All transport-level failures are
// returned as *errors.ProviderError so callers can classify them.
func (o *OpenAIInvoker) Invoke(ctx context.Context, model, prompt string) (*Result, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	o.logger.Debug("completion finished",
		slog.String("model", model),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)

	if len(resp.Choices) == 0 {
		return nil, &errors.ProviderError{
			Provider: "openai",
			Message:  "response contained no choices",
		}
	}

	return &Result{
		Text: resp.Choices[0].Message.Content,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// classifyError converts go-openai client errors into the typed
// transport error class, preserving the HTTP status code when the
// provider returned one.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if goerrors.As(err, &apiErr) {
		return &errors.ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Cause:      err,
		}
	}

	var reqErr *openai.RequestError
	if goerrors.As(err, &reqErr) {
		return &errors.ProviderError{
			Provider:   "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Message:    fmt.Sprintf("request failed: %v", reqErr.Err),
			Cause:      err,
		}
	}

	// Timeouts, connection resets, DNS failures: no status code, always
	// retryable.
	return &errors.ProviderError{
		Provider: "openai",
		Message:  err.Error(),
		Cause:    err,
	}
}
