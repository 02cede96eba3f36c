// Package vertex is a remote providers.Provider adapter for Google
// Vertex AI's OpenAI-compatible chat endpoint: Application Default
// Credentials via oauth2/google supply a self-refreshing token source,
// and the request body is plain OpenAI chat-completions JSON posted to
// the full endpoint URL.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/llmspell-go/kernel/internal/providers"
)

const cloudScope = "https://www.googleapis.com/auth/cloud-platform"

// Provider posts to a Vertex AI OpenAI-compatible endpoint, e.g.:
//
//	https://us-central1-aiplatform.googleapis.com/v1/projects/PROJECT/locations/LOCATION/endpoints/openapi/chat/completions
type Provider struct {
	model       string
	endpointURL string

	tokenSource oauth2.TokenSource
	client      *klient.Client
}

// New builds a Vertex provider. Authentication uses Google Application
// Default Credentials: set GOOGLE_APPLICATION_CREDENTIALS to a service
// account key file, or run on GCE/Cloud Run/GKE where ADC is ambient.
func New(model, endpointURL, proxy string, insecureSkipVerify bool) (*Provider, error) {
	if endpointURL == "" {
		return nil, fmt.Errorf("vertex: base_url must carry the full OpenAI-compatible endpoint URL")
	}

	ts, err := google.DefaultTokenSource(context.Background(), cloudScope)
	if err != nil {
		return nil, fmt.Errorf("vertex: google credentials (set GOOGLE_APPLICATION_CREDENTIALS or run on GCE): %w", err)
	}

	opts := []klient.OptionClientFn{
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	}
	if proxy != "" {
		opts = append(opts, klient.WithProxy(proxy))
	}
	if insecureSkipVerify {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}
	client, err := klient.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("vertex: build client: %w", err)
	}

	return &Provider{model: model, endpointURL: endpointURL, tokenSource: ts, client: client}, nil
}

func (p *Provider) Capability() providers.Capability {
	return providers.Capability{
		Name: "vertex", Model: p.model,
		SupportsStreaming: false, SupportsMultimodal: true, SupportsEmbedding: false,
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
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpointURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := p.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("vertex: token: %w", err)
	}
	token.SetAuthHeader(req)

	var result chatResponse
	if err := p.client.Do(req, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}); err != nil {
		return nil, fmt.Errorf("vertex: request: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("vertex: empty choices in response")
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

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, providers.ErrUnsupported
}

func (p *Provider) EmbeddingDimensions() int { return 0 }

func (p *Provider) Validate(ctx context.Context) error {
	if _, err := p.tokenSource.Token(); err != nil {
		return fmt.Errorf("vertex: credentials invalid: %w", err)
	}
	return nil
}
