package backend

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teilomillet/gollm"
)

// GollmAdapter is a text-only fallback backed by the gollm library. It
// covers vendors without a dedicated adapter and cheap no-tool requests
// such as compaction summaries. Tool schemas are forwarded, but tool calls
// are not parsed from the reply, so the controller should route tool-using
// turns to a structured adapter.
type GollmAdapter struct {
	vendor string
	llm    gollm.LLM
	log    zerolog.Logger
}

// NewGollmAdapter creates an adapter for the given gollm provider name.
// An empty apiKey defers to gollm's environment variable lookup.
func NewGollmAdapter(vendor, apiKey, model string) (*GollmAdapter, error) {
	opts := []gollm.ConfigOption{
		gollm.SetProvider(vendor),
		gollm.SetMaxRetries(0), // retries are the caller's job
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if model != "" {
		opts = append(opts, gollm.SetModel(model))
	}
	if apiKey != "" {
		opts = append(opts, gollm.SetAPIKey(apiKey))
	}

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "creating gollm client for vendor %s", vendor)
	}

	return &GollmAdapter{
		vendor: vendor,
		llm:    llm,
		log:    log.With().Str("adapter", "gollm").Str("vendor", vendor).Logger(),
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm instance, mainly for tests.
func NewGollmAdapterFromLLM(vendor string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{vendor: vendor, llm: llm, log: log.With().Str("adapter", "gollm").Logger()}
}

func (a *GollmAdapter) Name() string { return a.vendor }

// Chat flattens the conversation into a single prompt, generates, and wraps
// the reply as a plain assistant message.
func (a *GollmAdapter) Chat(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)

	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.MaxTokens > 0 {
		a.llm.SetOption("max_tokens", req.MaxTokens)
	}
	a.llm.SetOption("temperature", req.Temperature)

	a.log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("sending flattened request")

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}

	promptTokens := EstimateTokens(req.Messages)
	return &Response{
		Message: AssistantMessage(text),
		Usage: Usage{
			// gollm does not surface usage counters; estimate so the
			// compaction trigger still sees growth.
			PromptTokens:     promptTokens,
			CompletionTokens: len(text) / 4,
			TotalTokens:      promptTokens + len(text)/4,
		},
		StopReason: "stop",
	}, nil
}

// translateRequest flattens messages into one prompt with a system section.
// Assistant and tool turns are labeled so multi-turn context survives.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemParts, turnParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case RoleUser:
			turnParts = append(turnParts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				turnParts = append(turnParts, "[Assistant]: "+msg.Content)
			}
		case RoleTool:
			turnParts = append(turnParts, "[Tool Result]: "+msg.Content)
		}
	}

	promptText := strings.Join(turnParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var opts []gollm.PromptOption
	if len(systemParts) > 0 {
		opts = append(opts, gollm.WithSystemPrompt(strings.TrimSpace(strings.Join(systemParts, "\n\n")), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, gollm.WithMaxLength(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, td := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        td.Name,
					Description: td.Description,
					Parameters:  td.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
	}

	return gollm.NewPrompt(promptText, opts...)
}

// translateError classifies gollm failures by message content, since the
// library does not expose structured errors.
func (a *GollmAdapter) translateError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{BackendError: BackendError{Message: "generate timed out", Cause: err}}
	}
	if ctx.Err() != nil {
		return &CancelledError{BackendError: BackendError{Message: "generate cancelled", Cause: err}}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"):
		return &AuthError{VendorError: VendorError{BackendError: BackendError{Message: err.Error(), Cause: err}, Vendor: a.vendor, StatusCode: 401}}
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return &RateLimitError{VendorError: VendorError{BackendError: BackendError{Message: err.Error(), Cause: err}, Vendor: a.vendor, StatusCode: 429, Retryable: true}}
	case strings.Contains(msg, "context length"), strings.Contains(msg, "too many tokens"):
		return &ContextLengthError{VendorError: VendorError{BackendError: BackendError{Message: err.Error(), Cause: err}, Vendor: a.vendor, StatusCode: 413}}
	case strings.Contains(msg, "timeout"):
		return &TimeoutError{BackendError: BackendError{Message: err.Error(), Cause: err}}
	case strings.Contains(msg, "500"), strings.Contains(msg, "internal server"):
		return &ServerError{VendorError: VendorError{BackendError: BackendError{Message: err.Error(), Cause: err}, Vendor: a.vendor, StatusCode: 500, Retryable: true}}
	default:
		return &VendorError{BackendError: BackendError{Message: err.Error(), Cause: err}, Vendor: a.vendor, Retryable: true}
	}
}
