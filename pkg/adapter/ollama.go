package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaAdapter implements the Adapter interface for locally served models.
type OllamaAdapter struct {
	client *api.Client
	models []string
}

// NewOllamaAdapter creates an adapter for the Ollama server at host.
func NewOllamaAdapter(host string, models ...string) (*OllamaAdapter, error) {
	if host == "" {
		host = defaultOllamaHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	parsedURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if len(models) == 0 {
		models = []string{"qwen2.5:7b", "llama3.1:8b"}
	}
	return &OllamaAdapter{
		client: api.NewClient(parsedURL, http.DefaultClient),
		models: models,
	}, nil
}

// Name returns the adapter identifier.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// Models returns the configured local models.
func (a *OllamaAdapter) Models() []string {
	return a.models
}

// Generate runs a non-streaming chat completion.
func (a *OllamaAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	stream := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "system", Content: assistantPersona},
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
		Options: map[string]any{
			"num_predict": maxOutputTokens,
			"temperature": temperature,
		},
	}

	var response api.ChatResponse
	err := a.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return nil, classifyOllamaError(err)
	}

	if strings.TrimSpace(response.Message.Content) == "" {
		return nil, &AdapterError{Adapter: a.Name(), Err: ErrEmptyCompletion}
	}
	return &Response{
		Content: response.Message.Content,
		Adapter: a.Name(),
		Model:   model,
		Usage: &Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}, nil
}

func classifyOllamaError(err error) error {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return &AdapterError{Adapter: "ollama", Temporary: true, Err: fmt.Errorf("server not reachable: %w", err)}
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return &AdapterError{Adapter: "ollama", Status: http.StatusNotFound, Err: err}
	default:
		return &AdapterError{Adapter: "ollama", Err: err}
	}
}
