package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbed is a deterministic embedding for tests: documents sharing
// words land near each other without a model endpoint.
func hashEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for i, r := range text {
		vec[(i+int(r))%64] += 1
	}
	// chromem expects normalized vectors.
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := 1 / sqrt32(norm)
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func sqrt32(x float32) float32 {
	// Newton's method is plenty for test vectors.
	guess := x / 2
	for i := 0; i < 20; i++ {
		guess = (guess + x/guess) / 2
	}
	return guess
}

func TestLocalIndexRoundTrip(t *testing.T) {
	index, err := NewLocalIndex("", "test", chromem.EmbeddingFunc(hashEmbed))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, index.Ingest(ctx, []Document{
		{Content: "how to reset a password", SourceID: "kb/auth.md"},
		{Content: "refund processing timelines", SourceID: "kb/billing.md"},
	}))
	assert.Equal(t, 2, index.Count())

	chunks, err := index.Retrieve(ctx, "how to reset a password", 5)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "how to reset a password", chunks[0].Content)
	assert.Equal(t, "kb/auth.md", chunks[0].SourceID)
	assert.Greater(t, chunks[0].RelevanceScore, 0.0)
}

func TestLocalIndexEmptyIndex(t *testing.T) {
	index, err := NewLocalIndex("", "empty", chromem.EmbeddingFunc(hashEmbed))
	require.NoError(t, err)

	chunks, err := index.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkHashIsStable(t *testing.T) {
	a := Chunk{Content: "same content", SourceID: "x"}
	b := Chunk{Content: "same content", SourceID: "y"}
	c := Chunk{Content: "other content"}
	assert.Equal(t, a.Hash(), b.Hash(), "hash covers content only")
	assert.NotEqual(t, a.Hash(), c.Hash())
}

type countingRetriever struct {
	calls  atomic.Int64
	chunks []Chunk
}

func (r *countingRetriever) Retrieve(context.Context, string, int) ([]Chunk, error) {
	r.calls.Add(1)
	return r.chunks, nil
}

func TestCachedRetrieverHitsAndExpires(t *testing.T) {
	inner := &countingRetriever{chunks: []Chunk{{Content: "c", RelevanceScore: 0.9}}}
	cached, err := NewCached(inner, 8, 50*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		chunks, err := cached.Retrieve(ctx, "q", 5)
		require.NoError(t, err)
		assert.Len(t, chunks, 1)
	}
	assert.Equal(t, int64(1), inner.calls.Load(), "repeat queries served from cache")

	_, err = cached.Retrieve(ctx, "q", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load(), "different top_k is a different key")

	time.Sleep(60 * time.Millisecond)
	_, err = cached.Retrieve(ctx, "q", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inner.calls.Load(), "expired entries are refetched")
}

func TestHTTPRetriever(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chunks":[{"content":"billing faq","relevance_score":0.82,"source_id":"kb/billing.md"}]}`))
	}))
	defer server.Close()

	retriever := NewHTTPRetriever(server.URL)
	chunks, err := retriever.Retrieve(context.Background(), "billing", 5)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "billing faq", chunks[0].Content)
	assert.Equal(t, 0.82, chunks[0].RelevanceScore)
}

func TestHTTPRetrieverErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewHTTPRetriever(server.URL).Retrieve(context.Background(), "q", 5)
	assert.Error(t, err)
}
