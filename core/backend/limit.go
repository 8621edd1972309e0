package backend

import (
	"context"

	"github.com/siherrmann/citegraph/core/metrics"
	"github.com/siherrmann/citegraph/core/pipeline"
	"golang.org/x/time/rate"
)

func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

func observe(name, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BackendRequests.WithLabelValues(name, operation, result).Inc()
}

type limitedGenerator struct {
	name    string
	next    Generator
	limiter *rate.Limiter
}

// LimitGenerator throttles g to requestsPerSecond (unlimited when <= 0) and counts its requests.
func LimitGenerator(name string, g Generator, requestsPerSecond float64) Generator {
	return &limitedGenerator{name: name, next: g, limiter: newLimiter(requestsPerSecond)}
}

func (l *limitedGenerator) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	text, err := l.next.Generate(ctx, prompt, opts...)
	observe(l.name, "generate", err)
	return text, err
}

type limitedEmbedder struct {
	name    string
	next    pipeline.Embedder
	limiter *rate.Limiter
}

// LimitEmbedder throttles e like LimitGenerator. A batch counts as one request.
func LimitEmbedder(name string, e pipeline.Embedder, requestsPerSecond float64) pipeline.Embedder {
	return &limitedEmbedder{name: name, next: e, limiter: newLimiter(requestsPerSecond)}
}

func (l *limitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vector, err := l.next.Embed(ctx, text)
	observe(l.name, "embed", err)
	return vector, err
}

func (l *limitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vectors, err := l.next.EmbedBatch(ctx, texts)
	observe(l.name, "embed_batch", err)
	return vectors, err
}
