package model

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Document is an ingested source. Its ID is derived from the normalized content,
// so a document is immutable once created.
type Document struct {
	ID          uuid.UUID  `json:"id"`
	SourceURI   string     `json:"source_uri"`
	Title       string     `json:"title"`
	Tier        string     `json:"tier,omitempty"`
	Quality     *float64   `json:"quality,omitempty"`
	Content     string     `json:"content,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Metadata    Metadata   `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SourceDocument is the (raw_text, metadata) tuple produced by a content extractor.
type SourceDocument struct {
	Text        string     `json:"text"`
	SourceURI   string     `json:"source_uri"`
	Title       string     `json:"title"`
	Tier        string     `json:"tier,omitempty"`
	Quality     *float64   `json:"quality,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Metadata    Metadata   `json:"metadata,omitempty"`
}

// NewSourceDocumentFromFile reads a text file into a SourceDocument.
// The title defaults to the file name without extension and the source URI to a file:// URI.
func NewSourceDocumentFromFile(filePath string, metadata Metadata) (*SourceDocument, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	title := filename[:len(filename)-len(filepath.Ext(filename))]
	if title == "" {
		title = filename
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		absPath = filePath
	}

	return &SourceDocument{
		Text:      string(content),
		SourceURI: "file://" + filepath.ToSlash(absPath),
		Title:     title,
		Metadata:  metadata,
	}, nil
}
