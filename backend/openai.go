package backend

import (
	"context"
	"encoding/json"
	"net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter speaks the Chat Completions protocol. The neutral shape was
// modeled on this API, so translation is close to field-for-field.
type OpenAIAdapter struct {
	client *go_openai.Client
	log    zerolog.Logger
}

// NewOpenAIAdapter creates an adapter using the given API key. An empty
// baseURL uses the public endpoint; a non-empty one targets a compatible
// proxy or test server.
func NewOpenAIAdapter(apiKey, baseURL string) *OpenAIAdapter {
	cfg := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{
		client: go_openai.NewClientWithConfig(cfg),
		log:    log.With().Str("adapter", "openai").Logger(),
	}
}

// NewOpenAIAdapterFromClient wraps an existing client, mainly for tests.
func NewOpenAIAdapterFromClient(client *go_openai.Client) *OpenAIAdapter {
	return &OpenAIAdapter{client: client, log: log.With().Str("adapter", "openai").Logger()}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// Chat sends a blocking request and normalizes the first choice.
func (a *OpenAIAdapter) Chat(ctx context.Context, req Request) (*Response, error) {
	wireReq := a.translateRequest(req)

	a.log.Debug().Str("model", req.Model).Int("messages", len(wireReq.Messages)).
		Int("tools", len(wireReq.Tools)).Msg("sending chat request")

	resp, err := a.client.CreateChatCompletion(ctx, wireReq)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &VendorError{BackendError: BackendError{Message: "response contained no choices"}, Vendor: "openai"}
	}

	return a.translateResponse(&resp), nil
}

func (a *OpenAIAdapter) translateRequest(req Request) go_openai.ChatCompletionRequest {
	messages := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := go_openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, go_openai.ToolCall{
				ID:   tc.ID,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		messages = append(messages, wm)
	}

	wireReq := go_openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	for _, td := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	if len(wireReq.Tools) > 0 {
		wireReq.ToolChoice = "auto"
	}

	return wireReq
}

func (a *OpenAIAdapter) translateResponse(resp *go_openai.ChatCompletionResponse) *Response {
	choice := resp.Choices[0]
	msg := Message{
		Role:    RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return &Response{
		Message: msg,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		StopReason: string(choice.FinishReason),
	}
}

func (a *OpenAIAdapter) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &TimeoutError{BackendError: BackendError{Message: "chat request timed out", Cause: err}}
		}
		return &CancelledError{BackendError: BackendError{Message: "chat request cancelled", Cause: err}}
	}

	switch e := err.(type) {
	case *go_openai.APIError:
		return ErrorFromStatus(e.HTTPStatusCode, "openai", e.Message, nil)
	case *go_openai.RequestError:
		return ErrorFromStatus(e.HTTPStatusCode, "openai", e.Error(), nil)
	}
	if _, ok := err.(net.Error); ok {
		return &NetworkError{BackendError: BackendError{Message: "network failure", Cause: err}}
	}
	return &VendorError{BackendError: BackendError{Message: err.Error(), Cause: err}, Vendor: "openai", Retryable: true}
}
