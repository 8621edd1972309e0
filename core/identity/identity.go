// Package identity derives the deterministic identifiers of every graph record.
//
// All IDs are name-based UUIDs (version 5) inside a citegraph namespace, so the
// same input always yields the same ID and re-ingestion converges on the same graph.
package identity

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Sentinel is returned for empty content. It is never a valid record ID.
var Sentinel = uuid.Nil

var (
	namespace         = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/siherrmann/citegraph"))
	documentSpace     = uuid.NewSHA1(namespace, []byte("document"))
	chunkSpace        = uuid.NewSHA1(namespace, []byte("chunk"))
	mentionSpace      = uuid.NewSHA1(namespace, []byte("mention"))
	chainSpace        = uuid.NewSHA1(namespace, []byte("coreference-chain"))
	entitySpace       = uuid.NewSHA1(namespace, []byte("entity"))
	relationSpace     = uuid.NewSHA1(namespace, []byte("relation"))
	edgeSpace         = uuid.NewSHA1(namespace, []byte("edge"))
	statementSpace    = uuid.NewSHA1(namespace, []byte("statement"))
	verificationSpace = uuid.NewSHA1(namespace, []byte("verification"))
)

// IsSentinel reports whether id is the reserved sentinel.
func IsSentinel(id uuid.UUID) bool {
	return id == Sentinel
}

// Normalize applies NFC, trims and collapses every whitespace run to one space.
func Normalize(content string) string {
	return strings.Join(strings.Fields(norm.NFC.String(content)), " ")
}

// NormalizeClaim is Normalize plus Unicode case folding.
func NormalizeClaim(text string) string {
	return cases.Fold().String(Normalize(text))
}

// NormalizeName folds an entity surface form for matching: case folding,
// no leading article, no possessive suffix and no surrounding punctuation.
func NormalizeName(name string) string {
	n := NormalizeClaim(name)
	n = strings.TrimFunc(n, func(r rune) bool {
		return unicode.IsPunct(r) && r != '-' && r != '&'
	})
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(n, article) {
			n = n[len(article):]
			break
		}
	}
	n = strings.TrimSuffix(n, "'s")
	n = strings.TrimSuffix(n, "’s")
	return strings.TrimSpace(n)
}

// DocumentID hashes the normalized content. Empty content yields Sentinel.
func DocumentID(content string) uuid.UUID {
	normalized := Normalize(content)
	if normalized == "" {
		return Sentinel
	}
	return uuid.NewSHA1(documentSpace, []byte(normalized))
}

// ChunkID hashes the document ID with the byte range of the chunk.
func ChunkID(documentID uuid.UUID, byteStart, byteEnd int) uuid.UUID {
	return uuid.NewSHA1(chunkSpace, rangeKey(documentID, byteStart, byteEnd))
}

// MentionID hashes the document ID with the byte range of the mention.
// A mention found twice in overlapping chunks keeps one ID.
func MentionID(documentID uuid.UUID, byteStart, byteEnd int) uuid.UUID {
	return uuid.NewSHA1(mentionSpace, rangeKey(documentID, byteStart, byteEnd))
}

// ChainID identifies a coreference chain by its representative mention.
func ChainID(documentID uuid.UUID, representative uuid.UUID) uuid.UUID {
	key := append(append(make([]byte, 0, 32), documentID[:]...), representative[:]...)
	return uuid.NewSHA1(chainSpace, key)
}

// EntityID identifies a canonical entity by type and normalized name.
func EntityID(entityType model.EntityType, canonicalName string) uuid.UUID {
	return uuid.NewSHA1(entitySpace, []byte(string(entityType)+"\x00"+NormalizeName(canonicalName)))
}

// RelationID is the MERGE key (source, type, target).
func RelationID(source uuid.UUID, relationType model.RelationType, target uuid.UUID) uuid.UUID {
	key := make([]byte, 0, 32+len(relationType)+1)
	key = append(key, source[:]...)
	key = append(key, []byte(relationType)...)
	key = append(key, 0)
	key = append(key, target[:]...)
	return uuid.NewSHA1(relationSpace, key)
}

// EdgeID identifies a structural edge.
func EdgeID(edgeType model.EdgeType, source, target uuid.UUID) uuid.UUID {
	key := make([]byte, 0, 32+len(edgeType)+1)
	key = append(key, source[:]...)
	key = append(key, []byte(edgeType)...)
	key = append(key, 0)
	key = append(key, target[:]...)
	return uuid.NewSHA1(edgeSpace, key)
}

// StatementID hashes the agent with the normalized claim, so claims differing only
// in case or whitespace collapse to one statement.
func StatementID(agentID string, claimText string) uuid.UUID {
	return uuid.NewSHA1(statementSpace, []byte(strings.TrimSpace(agentID)+"\x00"+NormalizeClaim(claimText)))
}

// VerificationID hashes every field of a verification. Resubmitting the same
// verification is a no-op; any difference appends a new record.
func VerificationID(v *model.VerificationRecord) uuid.UUID {
	keys := make([]string, 0, len(v.Findings))
	for k := range v.Findings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%s\x00%s\x00%.6f", v.StatementID, strings.TrimSpace(v.AgentID), v.Verdict, v.Confidence)
	for _, k := range keys {
		fmt.Fprintf(&b, "\x00%s=%s", k, Normalize(v.Findings[k]))
	}
	return uuid.NewSHA1(verificationSpace, []byte(b.String()))
}

func rangeKey(documentID uuid.UUID, byteStart, byteEnd int) []byte {
	key := make([]byte, 16, 32)
	copy(key, documentID[:])
	key = binary.BigEndian.AppendUint64(key, uint64(byteStart))
	key = binary.BigEndian.AppendUint64(key, uint64(byteEnd))
	return key
}
