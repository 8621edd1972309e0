// Package goopenai implements the generation and embedding backends for any
// OpenAI compatible endpoint (vLLM, LocalAI, Azure deployments and the like).
package goopenai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/core/pipeline"
	"github.com/siherrmann/citegraph/model"
)

// Name is the registry name of this backend.
const Name = "openai-compatible"

// Client wraps a go-openai client.
type Client struct {
	client      *openai.Client
	chatModel   string
	embedModel  openai.EmbeddingModel
	temperature float32
	timeout     time.Duration
}

// New creates a client for config.BaseURL.
func New(config model.BackendConfig) (*Client, error) {
	if config.BaseURL == "" && config.APIKey == "" {
		return nil, errors.New("openai compatible backend needs a base url or an api key")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	chatModel := config.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	embedModel := openai.EmbeddingModel(config.EmbedModel)
	if embedModel == "" {
		embedModel = openai.SmallEmbedding3
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		chatModel:   chatModel,
		embedModel:  embedModel,
		temperature: float32(config.Temperature),
		timeout:     timeout,
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

// Generate sends a chat completion request. A schema option switches the
// endpoint to JSON object output since compatible servers rarely support strict schemas.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...backend.GenerateOption) (string, error) {
	options := backend.ApplyOptions(backend.GenerateOptions{Model: c.chatModel, Temperature: float64(c.temperature)}, opts...)

	var messages []openai.ChatCompletionMessage
	for _, sp := range options.SystemPrompts {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sp})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	request := openai.ChatCompletionRequest{
		Model:       options.Model,
		Messages:    messages,
		Temperature: float32(options.Temperature),
	}
	if options.Schema != nil {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	response, err := c.client.CreateChatCompletion(ctxWithTimeout, request)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no response from model")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// Embed embeds one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request, keeping the input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	response, err := c.client.CreateEmbeddings(ctxWithTimeout, openai.EmbeddingRequest{
		Input: texts,
		Model: c.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range response.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index out of range: %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}
