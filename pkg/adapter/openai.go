package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	deepseekBaseURL  = "https://api.deepseek.com/v1"
	dashscopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// OpenAIAdapter implements the Adapter interface for OpenAI models and for
// providers exposing an OpenAI-compatible chat completions API.
type OpenAIAdapter struct {
	client openai.Client
	name   string
	models []string
	// Compatible providers only understand max_tokens.
	legacyMaxTokens bool
}

// NewOpenAIAdapter creates a new OpenAI adapter. baseURL may be empty.
func NewOpenAIAdapter(apiKey, baseURL string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		name:   "openai",
		models: []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"},
	}, nil
}

// NewDeepSeekAdapter creates an adapter for DeepSeek's OpenAI-compatible API.
func NewDeepSeekAdapter(apiKey string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}
	return &OpenAIAdapter{
		client:          openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(deepseekBaseURL)),
		name:            "deepseek",
		models:          []string{"deepseek-chat", "deepseek-reasoner"},
		legacyMaxTokens: true,
	}, nil
}

// NewDashScopeAdapter creates an adapter for Qwen models served through
// DashScope's compatible mode.
func NewDashScopeAdapter(apiKey string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("dashscope API key is required")
	}
	return &OpenAIAdapter{
		client:          openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(dashscopeBaseURL)),
		name:            "dashscope",
		models:          []string{"qwen-plus", "qwen-turbo", "qwen-max"},
		legacyMaxTokens: true,
	}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return a.name
}

// Models returns the list of supported models.
func (a *OpenAIAdapter) Models() []string {
	return a.models
}

// Generate sends the persona and prompt and returns the first choice.
func (a *OpenAIAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(assistantPersona),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(temperature),
	}
	if a.legacyMaxTokens {
		params.MaxTokens = openai.Int(maxOutputTokens)
	} else {
		params.MaxCompletionTokens = openai.Int(maxOutputTokens)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, wrapStatus(a.name, apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("%s API error: %w", a.name, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &AdapterError{Adapter: a.name, Err: ErrEmptyCompletion}
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Adapter: a.name,
		Model:   model,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
