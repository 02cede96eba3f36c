// Package gemini is a remote providers.Provider adapter for the Google
// Generative Language API (generativelanguage.googleapis.com): native
// generateContent/batchEmbedContents endpoints with x-goog-api-key
// auth.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/worldline-go/klient"

	"github.com/llmspell-go/kernel/internal/providers"
)

const (
	DefaultBaseURL  = "https://generativelanguage.googleapis.com"
	embeddingDimGem = 768 // text-embedding-004
)

type Provider struct {
	apiKey         string
	model          string
	embeddingModel string
	client         *klient.Client
}

func New(apiKey, model, embeddingModel, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api_key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}
	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{
			"Content-Type":   []string{"application/json"},
			"x-goog-api-key": []string{apiKey},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: build client: %w", err)
	}
	return &Provider{apiKey: apiKey, model: model, embeddingModel: embeddingModel, client: client}, nil
}

func (p *Provider) Capability() providers.Capability {
	return providers.Capability{
		Name: "gemini", Model: p.model,
		SupportsStreaming: true, SupportsMultimodal: true, SupportsEmbedding: true,
	}
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string `json:"text"`
				FunctionCall *struct {
					Name string         `json:"name"`
					Args map[string]any `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (p *Provider) Complete(ctx context.Context, messages []providers.Message, tools []providers.Tool) (*providers.Response, error) {
	contents := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		text := ""
		switch c := m.Content.(type) {
		case string:
			text = c
		default:
			raw, _ := json.Marshal(c)
			text = string(raw)
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": text}},
		})
	}

	body := map[string]any{"contents": contents}
	if len(tools) > 0 {
		decls := make([]map[string]any, len(tools))
		for i, t := range tools {
			decls[i] = map[string]any{
				"name": t.Name, "description": t.Description, "parameters": t.InputSchema,
			}
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", p.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	var result generateResponse
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return nil, fmt.Errorf("gemini: request: %w", err)
	}
	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty candidates in response")
	}

	candidate := result.Candidates[0]
	out := &providers.Response{
		Finished: true,
		Usage: providers.Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
	}
	var text strings.Builder
	for i, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
		if part.FunctionCall != nil {
			out.Finished = false
			out.ToolCalls = append(out.ToolCalls, providers.ToolCall{
				ID:        fmt.Sprintf("call-%d", i),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	out.Content = text.String()
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

type embedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	requests := make([]map[string]any, len(texts))
	for i, t := range texts {
		requests[i] = map[string]any{
			"model":   "models/" + p.embeddingModel,
			"content": map[string]any{"parts": []map[string]any{{"text": t}}},
		}
	}
	jsonData, err := json.Marshal(map[string]any{"requests": requests})
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/v1beta/models/%s:batchEmbedContents", p.embeddingModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	var result embedResponse
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return nil, fmt.Errorf("gemini: embed request: %w", err)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (p *Provider) EmbeddingDimensions() int { return embeddingDimGem }

func (p *Provider) Validate(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("gemini: missing API key")
	}
	return nil
}
