package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "completion_duration_seconds",
		Help:      "Duration of AI grading completion requests",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
	}, []string{"model"})

	completionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "completion_failures_total",
		Help:      "Number of AI grading completion failures by kind",
	}, []string{"model", "kind"})
)

// OpenAIConfig defines configuration options for the OpenAI completer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// OpenAICompleter implements Completer against the OpenAI chat completion API or any
// endpoint speaking the same protocol.
type OpenAICompleter struct {
	client  *openai.Client
	timeout time.Duration
	tracer  trace.Tracer
	logger  zerolog.Logger
}

var _ Completer = (*OpenAICompleter)(nil)

// NewOpenAICompleter builds a new completer using the provided configuration.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAICompleter{
		client:  openai.NewClientWithConfig(config),
		timeout: cfg.Timeout,
		tracer:  otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/openai"),
		logger:  logger.With().Str("component", "openai_completer").Logger(),
	}, nil
}

// Complete sends one chat completion request bounded by the configured timeout.
func (c *OpenAICompleter) Complete(parent context.Context, prompt Prompt, model ModelConfig) (string, error) {
	if model.Model == "" {
		model.Model = openai.GPT4oMini
	}
	if model.MaxTokens == 0 {
		model.MaxTokens = 2048
	}

	ctx, span := c.tracer.Start(parent, "openai.complete", trace.WithAttributes(
		attribute.String("model", model.Model),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.User})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model.Model,
		MaxTokens:   model.MaxTokens,
		Temperature: model.Temperature,
		Messages:    messages,
	})
	completionDuration.WithLabelValues(model.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", c.fail(span, model.Model, Classify(err))
	}

	if len(resp.Choices) == 0 {
		return "", c.fail(span, model.Model, &Failure{Kind: FailureEmptyReply, Err: fmt.Errorf("no choices returned from openai")})
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", c.fail(span, model.Model, &Failure{Kind: FailureEmptyReply})
	}

	span.SetAttributes(attribute.Int("usage.total_tokens", resp.Usage.TotalTokens))
	return content, nil
}

func (c *OpenAICompleter) fail(span trace.Span, model string, failure *Failure) error {
	completionFailures.WithLabelValues(model, string(failure.Kind)).Inc()
	span.RecordError(failure)
	span.SetStatus(codes.Error, string(failure.Kind))
	c.logger.Warn().Err(failure).Str("model", model).Str("kind", string(failure.Kind)).Int("status", failure.StatusCode).Msg("completion failed")
	return failure
}
