// Package llm wraps language-model calls behind one provider-agnostic
// client, treating them exactly like database calls: typed request and
// response, timeouts, and a token-bucket rate limit. Nothing here is
// reentrant within a single pipeline step.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/config"
)

var tracer = otel.Tracer("nlsqld/internal/llm")

// Role mirrors llms.ChatMessageType but keeps this package's request
// shape independent of the underlying provider library.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is a single, bounded completion call.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the model's reply plus token accounting for the stats
// payload in the `complete` event.
type Response struct {
	Content      string
	PromptTokens int
	OutputTokens int
}

// Completer is the interface pipeline components depend on, so tests can
// substitute a fake without touching a real provider. *Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Client is the provider-agnostic chat-completion client used by every
// pipeline step that needs a language model.
type Client struct {
	model   llms.Model
	limiter *rate.Limiter
	counter *TokenCounter
	timeout time.Duration
}

// New builds a Client for the configured provider (openai or ollama).
func New(cfg config.LLM) (*Client, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case "ollama":
		model, err = ollama.New(
			ollama.WithServerURL(cfg.OllamaBaseURL),
			ollama.WithModel(cfg.OllamaModel),
		)
	case "openai", "":
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.OpenAIModel),
		)
	default:
		return nil, apperr.Config(fmt.Sprintf("unknown LLM_PROVIDER %q", cfg.Provider), nil)
	}
	if err != nil {
		return nil, apperr.Config("initializing language model client", err)
	}

	modelName := cfg.OpenAIModel
	if cfg.Provider == "ollama" {
		modelName = cfg.OllamaModel
	}

	return &Client{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		counter: NewTokenCounter(modelName),
		timeout: cfg.CallTimeout,
	}, nil
}

// Complete issues one bounded completion call, independent of any
// deadline the caller's ctx may already carry: cfg.LLM.CallTimeout
// bounds this one call on its own, so a single slow model invocation
// cannot eat the whole pipeline's timeout budget in one step. The
// limiter blocks the caller until a token-bucket slot is free or ctx is
// cancelled, which is how this package's rate limit composes with that
// per-call timeout.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		err = apperr.Timeout("llm_rate_limit", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	content, err := llms.GenerateFromSinglePrompt(ctx, c.model, renderPrompt(req.Messages),
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(req.Temperature),
	)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = apperr.Timeout("llm_call", err)
		} else {
			err = apperr.UpstreamUnavailable("language model", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	resp := Response{
		Content:      content,
		PromptTokens: c.counter.Count(renderPrompt(req.Messages)),
		OutputTokens: c.counter.Count(content),
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.PromptTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

// renderPrompt flattens the typed message list into the single-string
// prompt langchaingo's legacy Call interface expects; each pipeline step
// owns its own system/user framing within Messages.
func renderPrompt(msgs []Message) string {
	var out string
	for _, m := range msgs {
		out += string(m.Role) + ": " + m.Content + "\n"
	}
	return out
}
