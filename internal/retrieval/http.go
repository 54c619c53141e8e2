package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTTPRetriever queries a shared retrieval service over JSON.
type HTTPRetriever struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPRetriever.
type HTTPOption func(*HTTPRetriever)

// WithHTTPClient swaps the underlying client (tests, custom transports).
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPRetriever) { r.client = client }
}

// NewHTTPRetriever points at a retrieval service's base URL.
func NewHTTPRetriever(baseURL string, opts ...HTTPOption) *HTTPRetriever {
	r := &HTTPRetriever{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Chunks []Chunk `json:"chunks"`
}

// Retrieve posts the query to the service's /search endpoint.
func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.http_query",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling retrieval service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval service returned %d", resp.StatusCode)
	}
	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	span.SetAttributes(attribute.Int("chunk_count", len(decoded.Chunks)))
	return decoded.Chunks, nil
}
