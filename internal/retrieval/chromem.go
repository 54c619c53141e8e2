package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	cfotel "github.com/caseflow-io/caseflow/internal/otel"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/retrieval")

// Document is one knowledge-base entry to index.
type Document struct {
	ID       string
	Content  string
	SourceID string
}

// LocalIndex is a chromem-go backed Retriever for self-contained
// deployments. The embedding function is injectable so tests can run
// without a model endpoint.
type LocalIndex struct {
	collection *chromem.Collection
}

// NewLocalIndex opens (or creates) the vector index. persistPath empty
// keeps the index in memory; embed nil falls back to chromem's default
// OpenAI embedding function.
func NewLocalIndex(persistPath, collectionName string, embed chromem.EmbeddingFunc) (*LocalIndex, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("opening vector index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	if collectionName == "" {
		collectionName = "knowledge"
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", collectionName, err)
	}
	return &LocalIndex{collection: collection}, nil
}

// Ingest adds documents to the index, minting ids where absent.
func (l *LocalIndex) Ingest(ctx context.Context, docs []Document) error {
	ctx, span := tracer.Start(ctx, "retrieval.ingest",
		trace.WithAttributes(attribute.Int("document_count", len(docs))))
	defer span.End()

	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = "doc_" + uuid.New().String()[:12]
		}
		err := l.collection.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: map[string]string{"source_id": doc.SourceID},
		})
		if err != nil {
			return fmt.Errorf("indexing document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Count returns the number of indexed documents.
func (l *LocalIndex) Count() int {
	return l.collection.Count()
}

// Retrieve runs a similarity query against the local index.
func (l *LocalIndex) Retrieve(ctx context.Context, query string, topK int) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.query",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	if topK <= 0 {
		topK = 5
	}
	// chromem rejects queries asking for more results than documents held.
	if count := l.collection.Count(); count == 0 {
		return nil, nil
	} else if topK > count {
		topK = count
	}

	results, err := l.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, Chunk{
			Content:        r.Content,
			RelevanceScore: float64(r.Similarity),
			SourceID:       r.Metadata["source_id"],
		})
	}
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	return chunks, nil
}
