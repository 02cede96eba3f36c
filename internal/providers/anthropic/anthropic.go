// Package anthropic is a remote providers.Provider adapter for the
// Anthropic Messages API: klient HTTP client with
// X-Api-Key/Anthropic-Version headers.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"

	"github.com/llmspell-go/kernel/internal/providers"
)

const DefaultBaseURL = "https://api.anthropic.com"

// Provider is the Anthropic Messages API adapter.
type Provider struct {
	apiKey string
	model  string
	client *klient.Client
}

// New builds an Anthropic provider. baseURL defaults to
// DefaultBaseURL when empty.
func New(apiKey, model, baseURL string) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{
			"X-Api-Key":         []string{apiKey},
			"Anthropic-Version": []string{"2023-06-01"},
			"Content-Type":      []string{"application/json"},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build client: %w", err)
	}
	return &Provider{apiKey: apiKey, model: model, client: client}, nil
}

func (p *Provider) Capability() providers.Capability {
	return providers.Capability{
		Name: "anthropic", Model: p.model,
		SupportsStreaming: true, SupportsMultimodal: true, SupportsEmbedding: false,
	}
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type response struct {
	Type       string         `json:"type"`
	Error      *struct{ Message string `json:"message"` } `json:"error"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) buildBody(messages []providers.Message, tools []providers.Tool) map[string]any {
	body := map[string]any{
		"model":      p.model,
		"messages":   messages,
		"max_tokens": 4096,
	}
	if len(tools) > 0 {
		anthropicTools := make([]map[string]any, len(tools))
		for i, t := range tools {
			anthropicTools[i] = map[string]any{
				"name": t.Name, "description": t.Description, "input_schema": t.InputSchema,
			}
		}
		body["tools"] = anthropicTools
	}
	return body
}

func (p *Provider) Complete(ctx context.Context, messages []providers.Message, tools []providers.Tool) (*providers.Response, error) {
	jsonData, err := json.Marshal(p.buildBody(messages, tools))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	var result response
	if err := p.client.Do(req, func(r *http.Response) error {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &result)
	}); err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}

	if result.Type == "error" && result.Error != nil {
		return nil, fmt.Errorf("anthropic: %s", result.Error.Message)
	}

	out := &providers.Response{
		Finished: result.StopReason != "tool_use",
		Usage: providers.Usage{
			PromptTokens: result.Usage.InputTokens, CompletionTokens: result.Usage.OutputTokens,
			TotalTokens: result.Usage.InputTokens + result.Usage.OutputTokens,
		},
	}
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, providers.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	return out, nil
}

func (p *Provider) CompleteStreaming(ctx context.Context, messages []providers.Message, tools []providers.Tool) (<-chan providers.StreamChunk, error) {
	// Fake-stream fallback: one chunk carrying the whole completion, so
	// every provider answers the uniform interface even without SSE.
	resp, err := p.Complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan providers.StreamChunk, 1)
	ch <- providers.StreamChunk{Content: resp.Content, ToolCalls: resp.ToolCalls, FinishReason: "stop", Usage: &resp.Usage}
	close(ch)
	return ch, nil
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, providers.ErrUnsupported
}

func (p *Provider) EmbeddingDimensions() int { return 0 }

func (p *Provider) Validate(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("anthropic: missing API key")
	}
	return nil
}
