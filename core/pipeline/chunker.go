package pipeline

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
)

// DefaultChunker splits text into chunks of about config.TargetSize bytes which
// overlap by about config.Overlap bytes. Chunk ends snap to the sentence boundary
// closest to the target inside config.BoundaryWindow, otherwise to a rune boundary.
func DefaultChunker(config model.ChunkerConfig) ChunkFunc {
	return func(text string) ([]Span, error) {
		if config.TargetSize <= 0 {
			return nil, fmt.Errorf("chunk target size must be positive")
		}
		if config.Overlap < 0 || config.Overlap >= config.TargetSize {
			return nil, fmt.Errorf("chunk overlap must be in [0, %d)", config.TargetSize)
		}
		if strings.TrimSpace(text) == "" {
			return []Span{}, nil
		}

		var spans []Span
		start := 0
		for start < len(text) {
			end := start + config.TargetSize
			if end >= len(text) {
				end = len(text)
			} else if b := nearestBoundary(text, end, config.BoundaryWindow, start); b > start {
				end = b
			} else {
				end = runeStartAtOrBefore(text, end, start)
			}

			spans = append(spans, Span{Start: start, End: end})
			if end == len(text) {
				break
			}

			next := wordStartAfter(text, end-config.Overlap, end)
			if next <= start {
				next = end
			}
			start = next
		}

		return spans, nil
	}
}

// SentenceChunker groups maxSentences sentences per chunk without overlap.
func SentenceChunker(maxSentences int) ChunkFunc {
	return func(text string) ([]Span, error) {
		if maxSentences <= 0 {
			return nil, fmt.Errorf("max sentences per chunk must be positive")
		}
		if strings.TrimSpace(text) == "" {
			return []Span{}, nil
		}

		bounds := SentenceBoundaries(text)
		var spans []Span
		start := 0
		for i := maxSentences - 1; i < len(bounds); i += maxSentences {
			spans = append(spans, Span{Start: start, End: bounds[i]})
			start = bounds[i]
		}
		if start < len(text) {
			spans = append(spans, Span{Start: start, End: len(text)})
		}
		return spans, nil
	}
}

// SentenceBoundaries returns the byte offsets where a sentence ends, including
// the whitespace following its terminator. The last offset is len(text).
func SentenceBoundaries(text string) []int {
	var bounds []int
	for i := 0; i < len(text); i++ {
		c := text[i]
		paragraph := c == '\n' && i+1 < len(text) && text[i+1] == '\n'
		terminator := (c == '.' || c == '!' || c == '?') && (i+1 == len(text) || isSpace(text[i+1]))
		if !paragraph && !terminator {
			continue
		}
		j := i + 1
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		if j < len(text) {
			bounds = append(bounds, j)
		}
		i = j - 1
	}
	return append(bounds, len(text))
}

// nearestBoundary returns the sentence boundary closest to target within window, or -1.
func nearestBoundary(text string, target, window, floor int) int {
	lo := max(target-window, floor+1)
	hi := min(target+window, len(text))
	best, bestDist := -1, window+1
	for _, b := range SentenceBoundaries(text[floor:hi]) {
		b += floor
		if b < lo || b >= hi {
			continue
		}
		d := b - target
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}

func runeStartAtOrBefore(text string, i, floor int) int {
	for i > floor+1 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// wordStartAfter moves i forward to the start of the next word, staying below limit.
func wordStartAfter(text string, i, limit int) int {
	if i < 0 {
		i = 0
	}
	for i < limit && !utf8.RuneStart(text[i]) {
		i++
	}
	if i == 0 || isSpace(text[i-1]) {
		return i
	}
	j := i
	for j < limit {
		r, size := utf8.DecodeRuneInString(text[j:])
		if unicode.IsSpace(r) {
			for j < limit && isSpace(text[j]) {
				j++
			}
			return j
		}
		j += size
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

// BuildChunks turns spans into chunks of documentID and validates that they
// reconstruct text exactly.
func BuildChunks(documentID uuid.UUID, text string, spans []Span) ([]*model.Chunk, error) {
	if err := ValidateSpans(documentID, text, spans); err != nil {
		return nil, err
	}

	chunks := make([]*model.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = &model.Chunk{
			ID:         identity.ChunkID(documentID, s.Start, s.End),
			DocumentID: documentID,
			Index:      i,
			Text:       text[s.Start:s.End],
			ByteStart:  s.Start,
			ByteEnd:    s.End,
		}
	}
	return chunks, nil
}

// ValidateSpans checks that spans are ordered, on rune boundaries and cover text without gaps.
func ValidateSpans(documentID uuid.UUID, text string, spans []Span) error {
	if len(spans) == 0 {
		return nil
	}
	if spans[0].Start != 0 {
		return &model.ChunkBoundaryError{DocumentID: documentID, Start: 0, End: spans[0].Start, Reason: "text before first chunk"}
	}

	prevStart, prevEnd := -1, 0
	for _, s := range spans {
		switch {
		case s.Start >= s.End || s.End > len(text):
			return &model.ChunkBoundaryError{DocumentID: documentID, Start: s.Start, End: s.End, Reason: "empty or out of range"}
		case s.Start <= prevStart:
			return &model.ChunkBoundaryError{DocumentID: documentID, Start: s.Start, End: s.End, Reason: "chunks out of order"}
		case s.Start > prevEnd:
			return &model.ChunkBoundaryError{DocumentID: documentID, Start: prevEnd, End: s.Start, Reason: "gap between chunks"}
		case !utf8.RuneStart(text[s.Start]) || (s.End < len(text) && !utf8.RuneStart(text[s.End])):
			return &model.ChunkBoundaryError{DocumentID: documentID, Start: s.Start, End: s.End, Reason: "splits a UTF-8 sequence"}
		}
		prevStart, prevEnd = s.Start, max(prevEnd, s.End)
	}

	if prevEnd != len(text) {
		return &model.ChunkBoundaryError{DocumentID: documentID, Start: prevEnd, End: len(text), Reason: "text after last chunk"}
	}
	return nil
}
