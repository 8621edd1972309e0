package retrieval

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/siherrmann/citegraph/model"
)

const systemPrompt = "You answer questions strictly from the numbered sources you are given. " +
	"Cite every statement with the number of the supporting source in square brackets, for example [2] or [1][3]. " +
	"Only use numbers that appear in the source list. If the sources do not contain the answer, reply exactly: I cannot answer this from the sources."

// cannotAnswer is the reply the system prompt asks for when the sources do not help.
const cannotAnswer = "I cannot answer this from the sources."

type tokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
	logger   *slog.Logger
}

func newTokenCounter(logger *slog.Logger) *tokenCounter {
	return &tokenCounter{logger: logger}
}

// Count returns the cl100k token count of text, or an estimate of four bytes
// per token when the encoding cannot be loaded.
func (c *tokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("Token encoding unavailable, estimating prompt size", slog.String("error", err.Error()))
			return
		}
		c.encoding = enc
	})
	if c.encoding == nil {
		return len(text)/4 + 1
	}
	return len(c.encoding.Encode(text, nil, nil))
}

func formatSource(s model.RetrievedChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]", s.Ordinal)
	if s.Document != nil {
		if s.Document.Title != "" {
			fmt.Fprintf(&b, " %s", s.Document.Title)
		}
		if s.Document.PublishedAt != nil {
			fmt.Fprintf(&b, " (%s)", s.Document.PublishedAt.Format("2006-01-02"))
		}
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(s.Chunk.Text))
	b.WriteString("\n\n")
	return b.String()
}

// fitSources keeps sources in order while the prompt stays within maxTokens.
// The first source is always kept.
func (c *tokenCounter) fitSources(query string, sources []model.RetrievedChunk, maxTokens int) []model.RetrievedChunk {
	if maxTokens <= 0 || len(sources) == 0 {
		return sources
	}
	used := c.Count(systemPrompt) + c.Count(query) + 16
	for i, s := range sources {
		used += c.Count(formatSource(s))
		if used > maxTokens && i > 0 {
			return sources[:i]
		}
	}
	return sources
}

// BuildPrompt lists the sources under their ordinals followed by the question.
func BuildPrompt(query string, sources []model.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("Sources:\n\n")
	for _, s := range sources {
		b.WriteString(formatSource(s))
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\nAnswer:")
	return b.String()
}
