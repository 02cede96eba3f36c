// Package ollama is the local-inference providers.LocalProvider
// adapter: the chat request shape against a local Ollama server plus
// the local-model lifecycle methods
// (HealthCheck/ListLocalModels/PullModel/ModelInfo/UnloadModel) no
// remote provider needs.
package ollama

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

const DefaultBaseURL = "http://localhost:11434"

// Provider is the local Ollama-server adapter.
type Provider struct {
	model  string
	client *klient.Client
}

func New(model, baseURL string) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{"Content-Type": []string{"application/json"}}),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: build client: %w", err)
	}
	return &Provider{model: model, client: client}, nil
}

func (p *Provider) Capability() providers.Capability {
	return providers.Capability{
		Name: "ollama", Model: p.model,
		SupportsStreaming: true, SupportsMultimodal: false, SupportsEmbedding: true,
	}
}

type chatResult struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
}

func (p *Provider) Complete(ctx context.Context, messages []providers.Message, tools []providers.Tool) (*providers.Response, error) {
	body := map[string]any{"model": p.model, "messages": messages, "stream": false}
	if len(tools) > 0 {
		oaiTools := make([]map[string]any, len(tools))
		for i, t := range tools {
			oaiTools[i] = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": t.Name, "description": t.Description, "parameters": t.InputSchema},
			}
		}
		body["tools"] = oaiTools
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	var result chatResult
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return nil, fmt.Errorf("ollama: chat request: %w", err)
	}

	out := &providers.Response{Content: result.Message.Content, Finished: len(result.Message.ToolCalls) == 0}
	for i, tc := range result.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, providers.ToolCall{ID: fmt.Sprintf("call_%d", i), Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func (p *Provider) CompleteStreaming(ctx context.Context, messages []providers.Message, tools []providers.Tool) (<-chan providers.StreamChunk, error) {
	resp, err := p.Complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan providers.StreamChunk, 1)
	ch <- providers.StreamChunk{Content: resp.Content, ToolCalls: resp.ToolCalls, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

type embeddingResult struct {
	Embedding []float32 `json:"embedding"`
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(map[string]any{"model": p.model, "prompt": text})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/api/embeddings", bytes.NewBuffer(body))
		if err != nil {
			return nil, err
		}
		var result embeddingResult
		if err := p.client.Do(req, func(r *http.Response) error {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				return err
			}
			return json.Unmarshal(data, &result)
		}); err != nil {
			return nil, fmt.Errorf("ollama: embed request: %w", err)
		}
		out[i] = result.Embedding
	}
	return out, nil
}

func (p *Provider) EmbeddingDimensions() int { return 768 } // nomic-embed-text default

func (p *Provider) Validate(ctx context.Context) error {
	return p.HealthCheck(ctx)
}

// HealthCheck pings the local Ollama server's root endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	return p.client.Do(req, func(r *http.Response) error {
		if r.StatusCode >= 400 {
			return fmt.Errorf("ollama: health check returned status %d", r.StatusCode)
		}
		return nil
	})
}

// ListLocalModels lists models currently pulled on the local server.
func (p *Provider) ListLocalModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return nil, fmt.Errorf("ollama: list models: %w", err)
	}
	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// PullModel asks the local server to download spec (e.g. "llama3:8b").
func (p *Provider) PullModel(ctx context.Context, spec string) error {
	body, err := json.Marshal(map[string]any{"name": spec, "stream": false})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/api/pull", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	return p.client.Do(req, func(r *http.Response) error {
		if r.StatusCode >= 400 {
			return fmt.Errorf("ollama: pull %s returned status %d", spec, r.StatusCode)
		}
		return nil
	})
}

// ModelInfo returns the server's metadata for a locally-pulled model.
func (p *Provider) ModelInfo(ctx context.Context, id string) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"name": id})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/api/show", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return nil, fmt.Errorf("ollama: model info: %w", err)
	}
	return result, nil
}

// UnloadModel asks the server to evict id from memory immediately
// (Ollama unloads a model by requesting generation with keep_alive=0).
func (p *Provider) UnloadModel(ctx context.Context, id string) error {
	body, err := json.Marshal(map[string]any{"model": id, "keep_alive": 0})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	return p.client.Do(req, func(r *http.Response) error {
		if r.StatusCode >= 400 {
			return fmt.Errorf("ollama: unload %s returned status %d", id, r.StatusCode)
		}
		return nil
	})
}

var _ providers.LocalProvider = (*Provider)(nil)
