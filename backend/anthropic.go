package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicAdapter speaks the Messages API over plain HTTP. The wire format
// differs structurally from the neutral shape: system messages live in a
// top-level field, assistant tool calls are tool_use content blocks, tool
// results must be grouped into a single user message, roles must strictly
// alternate, and tool schemas use input_schema. Translation reconciles all
// of that; tool call ids, names, arguments, and text survive the round trip.
type AnthropicAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewAnthropicAdapter creates an adapter for the Messages API. An empty
// baseURL uses the public endpoint.
func NewAnthropicAdapter(apiKey, baseURL string) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicAdapter{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log.With().Str("adapter", "anthropic").Logger(),
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Wire types for the Messages API.

type anthropicContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string                 `json:"model"`
	System      string                 `json:"system,omitempty"`
	Messages    []anthropicMessage     `json:"messages"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature float64                `json:"temperature"`
	Tools       []anthropicTool        `json:"tools,omitempty"`
	ToolChoice  map[string]interface{} `json:"tool_choice,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends a blocking request and flattens the response content blocks
// back into the neutral shape.
func (a *AnthropicAdapter) Chat(ctx context.Context, req Request) (*Response, error) {
	wireReq := a.translateRequest(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, errors.Wrap(err, "encoding messages request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building messages request")
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	a.log.Debug().Str("model", req.Model).Int("messages", len(wireReq.Messages)).
		Int("tools", len(wireReq.Tools)).Msg("sending messages request")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{BackendError: BackendError{Message: "messages request timed out", Cause: err}}
		}
		if ctx.Err() != nil {
			return nil, &CancelledError{BackendError: BackendError{Message: "messages request cancelled", Cause: err}}
		}
		return nil, &NetworkError{BackendError: BackendError{Message: "messages request failed", Cause: err}}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{BackendError: BackendError{Message: "reading messages response", Cause: err}}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.translateHTTPError(resp, raw)
	}

	var wireResp anthropicResponse
	if err := json.Unmarshal(raw, &wireResp); err != nil {
		return nil, &VendorError{BackendError: BackendError{Message: "malformed messages response", Cause: err}, Vendor: "anthropic"}
	}

	return a.translateResponse(&wireResp), nil
}

// translateRequest converts neutral messages into the Messages API shape.
func (a *AnthropicAdapter) translateRequest(req Request) anthropicRequest {
	system, messages := convertAnthropicMessages(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096 // required by the Messages API
	}

	wireReq := anthropicRequest{
		Model:       req.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	for _, td := range req.Tools {
		schema := td.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		wireReq.Tools = append(wireReq.Tools, anthropicTool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: schema,
		})
	}
	if len(wireReq.Tools) > 0 {
		wireReq.ToolChoice = map[string]interface{}{"type": "auto"}
	}

	return wireReq
}

// convertAnthropicMessages extracts system text and rebuilds the message
// list under the Messages API constraints:
//
//   - system messages are pulled out into the returned system string;
//   - assistant tool calls become tool_use content blocks;
//   - consecutive tool-result messages collapse into one user message of
//     tool_result blocks (the API rejects a user turn split across
//     messages);
//   - the list must start with a user message and roles must strictly
//     alternate, so consecutive same-role messages are merged.
func convertAnthropicMessages(messages []Message) (string, []anthropicMessage) {
	var systemParts []string
	var out []anthropicMessage

	i := 0
	for i < len(messages) {
		msg := messages[i]

		switch msg.Role {
		case RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			i++

		case RoleUser:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
			})
			i++

		case RoleAssistant:
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = []anthropicContentBlock{{Type: "text", Text: ""}}
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
			i++

		case RoleTool:
			// Gather the whole run of tool results into one user message.
			var blocks []anthropicContentBlock
			for i < len(messages) && messages[i].Role == RoleTool {
				blocks = append(blocks, anthropicContentBlock{
					Type:      "tool_result",
					ToolUseID: messages[i].ToolCallID,
					Content:   messages[i].Content,
				})
				i++
			}
			out = append(out, anthropicMessage{Role: "user", Content: blocks})

		default:
			i++
		}
	}

	// The first message must come from the user.
	if len(out) > 0 && out[0].Role != "user" {
		out = append([]anthropicMessage{{
			Role:    "user",
			Content: []anthropicContentBlock{{Type: "text", Text: "Hello."}},
		}}, out...)
	}

	// Merge consecutive same-role messages to satisfy strict alternation.
	var merged []anthropicMessage
	for _, msg := range out {
		if len(merged) > 0 && merged[len(merged)-1].Role == msg.Role {
			last := &merged[len(merged)-1]
			last.Content = append(last.Content, msg.Content...)
			continue
		}
		merged = append(merged, msg)
	}

	return strings.Join(systemParts, "\n\n"), merged
}

// translateResponse flattens content blocks back into the neutral shape.
func (a *AnthropicAdapter) translateResponse(wireResp *anthropicResponse) *Response {
	var textParts []string
	var calls []ToolCall

	for _, block := range wireResp.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			calls = append(calls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	return &Response{
		Message: Message{
			Role:      RoleAssistant,
			Content:   strings.Join(textParts, "\n"),
			ToolCalls: calls,
		},
		Usage: Usage{
			PromptTokens:     wireResp.Usage.InputTokens,
			CompletionTokens: wireResp.Usage.OutputTokens,
			TotalTokens:      wireResp.Usage.InputTokens + wireResp.Usage.OutputTokens,
		},
		StopReason: wireResp.StopReason,
	}
}

func (a *AnthropicAdapter) translateHTTPError(resp *http.Response, raw []byte) error {
	message := strings.TrimSpace(string(raw))
	var body anthropicErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		message = body.Error.Message
	}

	var retryAfter *float64
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil {
			retryAfter = &secs
		}
	}

	return ErrorFromStatus(resp.StatusCode, "anthropic", message, retryAfter)
}
