// Package ollama implements the generation and embedding backends on a local
// or remote Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/core/pipeline"
	"github.com/siherrmann/citegraph/model"
)

// Name is the registry name of this backend.
const Name = "ollama"

// Client wraps the Ollama API client.
type Client struct {
	client      *api.Client
	chatModel   string
	embedModel  string
	temperature float64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// New connects to config.BaseURL, or the Ollama default when empty.
func New(config model.BackendConfig) (*Client, error) {
	base, err := url.Parse("http://127.0.0.1:11434")
	if err != nil {
		return nil, err
	}
	if config.BaseURL != "" {
		if base, err = url.Parse(config.BaseURL); err != nil {
			return nil, fmt.Errorf("invalid ollama url: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	if config.APIKey != "" {
		httpClient.Transport = &headerTransport{
			headers: map[string]string{"Authorization": "Bearer " + config.APIKey},
			rt:      http.DefaultTransport,
		}
	}

	chatModel := config.ChatModel
	if chatModel == "" {
		chatModel = "llama3.1"
	}
	embedModel := config.EmbedModel
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}

	return &Client{
		client:      api.NewClient(base, httpClient),
		chatModel:   chatModel,
		embedModel:  embedModel,
		temperature: config.Temperature,
	}, nil
}

// Register adds the generator and embedder to r.
func Register(r *backend.Registry) {
	r.RegisterGenerator(Name, func(config model.BackendConfig) (backend.Generator, error) {
		return New(config)
	})
	r.RegisterEmbedder(Name, func(config model.BackendConfig) (pipeline.Embedder, error) {
		return New(config)
	})
}

// Generate runs a non-streaming chat request.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...backend.GenerateOption) (string, error) {
	options := backend.ApplyOptions(backend.GenerateOptions{Model: c.chatModel, Temperature: c.temperature}, opts...)

	var messages []api.Message
	for _, sp := range options.SystemPrompts {
		messages = append(messages, api.Message{Role: "system", Content: sp})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Schema != nil {
		format, err := json.Marshal(options.Schema)
		if err != nil {
			return "", fmt.Errorf("marshal schema: %w", err)
		}
		req.Format = json.RawMessage(format)
	}

	var content string
	err := c.client.Chat(ctx, req, func(cr api.ChatResponse) error {
		content += cr.Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Embed embeds one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts with one embed request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	res, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.embedModel,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, embedding := range res.Embeddings {
		out[i] = make([]float32, len(embedding))
		for j, v := range embedding {
			out[i][j] = float32(v)
		}
	}
	return out, nil
}
