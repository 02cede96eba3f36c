// Package openai is a remote providers.Provider adapter for the OpenAI
// chat-completions and embeddings APIs: klient wiring with Bearer auth
// and an overridable base URL, so the same adapter also serves
// OpenAI-compatible gateways like GitHub Models or OpenRouter.
package openai

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

const (
	DefaultBaseURL  = "https://api.openai.com/v1"
	embeddingDimOAI = 1536 // text-embedding-3-small
)

// Provider is the OpenAI-compatible chat + embeddings adapter.
type Provider struct {
	apiKey         string
	model          string
	embeddingModel string
	client         *klient.Client
}

// New builds an OpenAI(-compatible) provider. baseURL defaults to
// DefaultBaseURL when empty.
func New(apiKey, model, embeddingModel, baseURL string) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	headers := http.Header{"Content-Type": []string{"application/json"}}
	if apiKey != "" {
		headers["Authorization"] = []string{"Bearer " + apiKey}
	}
	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("openai: build client: %w", err)
	}
	return &Provider{apiKey: apiKey, model: model, embeddingModel: embeddingModel, client: client}, nil
}

func (p *Provider) Capability() providers.Capability {
	return providers.Capability{
		Name: "openai", Model: p.model,
		SupportsStreaming: true, SupportsMultimodal: true, SupportsEmbedding: true,
	}
}

type chatResponse struct {
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
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) Complete(ctx context.Context, messages []providers.Message, tools []providers.Tool) (*providers.Response, error) {
	body := map[string]any{"model": p.model, "messages": messages}
	if len(tools) > 0 {
		oaiTools := make([]map[string]any, len(tools))
		for i, t := range tools {
			oaiTools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name": t.Name, "description": t.Description, "parameters": t.InputSchema,
				},
			}
		}
		body["tools"] = oaiTools
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	var result chatResponse
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return nil, fmt.Errorf("openai: request: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := result.Choices[0]
	out := &providers.Response{
		Content:  choice.Message.Content,
		Finished: choice.FinishReason != "tool_calls",
		Usage: providers.Usage{
			PromptTokens: result.Usage.PromptTokens, CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens: result.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, providers.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func (p *Provider) CompleteStreaming(ctx context.Context, messages []providers.Message, tools []providers.Tool) (<-chan providers.StreamChunk, error) {
	resp, err := p.Complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan providers.StreamChunk, 1)
	ch <- providers.StreamChunk{Content: resp.Content, ToolCalls: resp.ToolCalls, FinishReason: "stop", Usage: &resp.Usage}
	close(ch)
	return ch, nil
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{"model": p.embeddingModel, "input": texts}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	var result embeddingResponse
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return nil, fmt.Errorf("openai: embed request: %w", err)
	}

	out := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (p *Provider) EmbeddingDimensions() int { return embeddingDimOAI }

func (p *Provider) Validate(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("openai: missing API key")
	}
	return nil
}
