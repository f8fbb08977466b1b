// Package openai provides an OpenAI-compatible LLM adapter.
//
// The adapter translates the internal message shapes into the chat
// completions wire format and back, including tool definitions and tool
// call results, and wraps the transport call with the configured retry
// policy. It works against any OpenAI-compatible endpoint via WithBaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/openai/openai-go"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/llm/retry"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/logging"
	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// DefaultBaseURL is the default OpenAI API base URL.
const DefaultBaseURL = "https://api.openai.com/v1"

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	retryCfg   retry.Config
	log        *logging.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithRetry sets the retry policy for transport calls.
func WithRetry(cfg retry.Config) Option {
	return func(p *Provider) {
		p.retryCfg = cfg
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// New creates an OpenAI provider. An empty apiKey falls back to the
// OPENAI_API_KEY environment variable; the base URL falls back to
// OPENAI_BASE_URL before the public default.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required (parameter or OPENAI_API_KEY)")
	}

	log, err := logging.NewLogger("openai")
	if err != nil {
		log.Warnf("file logging unavailable, using stderr: %v", err)
	}

	p := &Provider{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      "gpt-4o",
		retryCfg:   retry.Config{},
		log:        log,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}

	return p, nil
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*types.LLMResponse, error) {
	body, err := p.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	var resp *types.LLMResponse
	err = retry.Do(ctx, p.retryCfg, func(ctx context.Context) error {
		result, callErr := p.call(ctx, body)
		if callErr != nil {
			return callErr
		}
		resp = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetModel implements llm.Provider.
func (p *Provider) GetModel() string {
	return p.model
}

func (p *Provider) buildRequestBody(req *llm.Request) ([]byte, error) {
	messages := make([]any, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		converted, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted)
	}

	body := map[string]any{
		"model":    p.model,
		"messages": messages,
	}
	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  def.Parameters,
				},
			})
		}
		body["tools"] = tools
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	return encoded, nil
}

// convertMessage translates one internal message to the wire shape.
// Plain user and assistant text rides on the SDK param helpers; tool call
// and tool result messages are built explicitly because their shapes carry
// ids the helpers do not cover.
func convertMessage(msg *types.Message) (any, error) {
	switch msg.Role {
	case types.RoleUser:
		return openai.UserMessage(msg.Text()), nil

	case types.RoleModel:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Text()), nil
		}
		toolCalls := make([]map[string]any, 0, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal tool call args: %w", err)
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   call.ID,
				"type": "function",
				"function": map[string]any{
					"name":      call.Name,
					"arguments": string(args),
				},
			})
		}
		out := map[string]any{
			"role":       "assistant",
			"tool_calls": toolCalls,
		}
		if text := msg.Text(); text != "" {
			out["content"] = text
		}
		return out, nil

	case types.RoleTool:
		return map[string]any{
			"role":         "tool",
			"tool_call_id": msg.CallID,
			"content":      msg.Result.MarshalText(),
		}, nil

	default:
		return nil, fmt.Errorf("openai: unsupported message role %q", msg.Role)
	}
}

// completionResponse is the subset of the chat completions response the
// adapter consumes.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) call(ctx context.Context, body []byte) (*types.LLMResponse, error) {
	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: API request failed with status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var completion completionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	return p.extractResponse(&completion), nil
}

func (p *Provider) extractResponse(completion *completionResponse) *types.LLMResponse {
	choice := completion.Choices[0]

	var contents []types.Content
	if choice.Message.Content != "" {
		contents = append(contents, types.NewTextContent(choice.Message.Content))
	}

	var toolCalls []types.ToolCall
	for _, call := range choice.Message.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				p.log.Warnf("tool call %s (%s): malformed arguments %q: %v",
					call.ID, call.Function.Name, call.Function.Arguments, err)
				args = map[string]any{}
			}
		}
		toolCalls = append(toolCalls, types.ToolCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: args,
		})
	}

	return &types.LLMResponse{
		Message:      types.NewModelMessage(contents, toolCalls),
		FinishReason: choice.FinishReason,
		TotalTokens:  completion.Usage.TotalTokens,
	}
}
