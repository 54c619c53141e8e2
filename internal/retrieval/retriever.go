// Package retrieval surfaces knowledge-base chunks relevant to a query.
// Backends are interchangeable: a local vector index for self-contained
// deployments and an HTTP service for shared ones, with an LRU cache
// layered over either.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Chunk is one retrieved knowledge fragment with its relevance score.
type Chunk struct {
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
	SourceID       string  `json:"source_id"`
}

// Hash returns the content fingerprint under which the semantic memory
// tier tracks this chunk's usage.
func (c Chunk) Hash() string {
	sum := sha256.Sum256([]byte(c.Content))
	return hex.EncodeToString(sum[:])
}

// Retriever finds the chunks most relevant to a query. An empty result is
// a valid answer, not an error.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Chunk, error)
}
