// Package openaiv3 implements the generation and embedding backends on the
// official OpenAI Go SDK.
package openaiv3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/core/pipeline"
	"github.com/siherrmann/citegraph/model"
)

// Name is the registry name of this backend.
const Name = "openai"

// Client talks to the OpenAI chat completion and embedding endpoints.
type Client struct {
	client      openai.Client
	chatModel   string
	embedModel  string
	temperature float64
	timeout     time.Duration
}

// New creates a client. An API key is required unless a custom base URL is set.
func New(config model.BackendConfig) (*Client, error) {
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, errors.New("openai api key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	chatModel := config.ChatModel
	if chatModel == "" {
		chatModel = string(openai.ChatModelGPT4oMini)
	}
	embedModel := config.EmbedModel
	if embedModel == "" {
		embedModel = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	return &Client{
		client:      openai.NewClient(options...),
		chatModel:   chatModel,
		embedModel:  embedModel,
		temperature: config.Temperature,
		timeout:     config.Timeout,
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

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Generate sends a single-turn prompt and returns the completion text.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...backend.GenerateOption) (string, error) {
	options := backend.ApplyOptions(backend.GenerateOptions{Model: c.chatModel, Temperature: c.temperature}, opts...)

	var messages []openai.ChatCompletionMessageParamUnion
	for _, sp := range options.SystemPrompts {
		messages = append(messages, openai.SystemMessage(sp))
	}
	messages = append(messages, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    messages,
		Temperature: openai.Float(options.Temperature),
	}
	if options.Schema != nil {
		body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   options.SchemaName,
					Schema: options.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	rCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	response, err := c.client.Chat.Completions.New(rCtx, body)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no choices in response from model")
	}
	return response.Choices[0].Message.Content, nil
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

	rCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	response, err := c.client.Embeddings.New(rCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.embedModel,
	})
	if err != nil {
		return nil, err
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, embedding := range response.Data {
		idx := int(embedding.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("embedding index out of range: %d", embedding.Index)
		}
		vector := make([]float32, len(embedding.Embedding))
		for i, v := range embedding.Embedding {
			vector[i] = float32(v)
		}
		out[idx] = vector
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}
