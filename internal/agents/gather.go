package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/memory"
	"github.com/caseflow-io/caseflow/internal/plan"
	"github.com/caseflow-io/caseflow/internal/retrieval"
)

// KnowledgeRetriever queries the retrieval backend and reports each
// surfaced chunk to the semantic tier's usage bookkeeping. Backend errors
// are transient; an empty result set is a success.
func KnowledgeRetriever(retriever retrieval.Retriever, store *memory.Store) agentclient.Func {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "agents.retrieve")
		defer span.End()

		var in plan.RetrieveInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding retrieve input: %w", err)
		}
		if retriever == nil {
			return json.Marshal(plan.RetrieveOutput{})
		}

		chunks, err := retriever.Retrieve(ctx, in.Query, in.TopK)
		if err != nil {
			return nil, agentclient.MarkTransient(fmt.Errorf("retrieval backend: %w", err))
		}

		out := plan.RetrieveOutput{Chunks: make([]plan.RetrievedChunk, 0, len(chunks))}
		for _, c := range chunks {
			out.Chunks = append(out.Chunks, plan.RetrievedChunk{
				Content:        c.Content,
				RelevanceScore: c.RelevanceScore,
				SourceID:       c.SourceID,
			})
			if store != nil {
				if err := store.TouchSemantic(ctx, c.Hash(), c.SourceID); err != nil {
					log.Warn().Err(err).Str("source_id", c.SourceID).Msg("semantic_touch_failed")
				}
			}
		}
		span.SetAttributes(attribute.Int("chunk_count", len(out.Chunks)))
		return json.Marshal(out)
	}
}

// MemoryRecaller searches episodic history for similar past incidents in
// the requesting user's scope (their incidents plus globally-filed ones).
func MemoryRecaller(store *memory.Store) agentclient.Func {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "agents.recall")
		defer span.End()

		var in plan.RecallInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding recall input: %w", err)
		}
		if store == nil {
			return json.Marshal(plan.RecallOutput{})
		}
		limit := in.Limit
		if limit <= 0 {
			limit = 5
		}

		incidents, err := store.SearchEpisodic(ctx, in.Query, in.UserID, limit)
		if err != nil {
			return nil, agentclient.MarkTransient(fmt.Errorf("episodic search: %w", err))
		}

		out := plan.RecallOutput{Incidents: make([]plan.RecalledIncident, 0, len(incidents))}
		for _, inc := range incidents {
			out.Incidents = append(out.Incidents, plan.RecalledIncident{
				IncidentID: inc.IncidentID,
				QueryText:  inc.QueryText,
				Resolution: inc.Resolution,
				Outcome:    inc.Outcome,
				Tags:       inc.Tags,
			})
		}
		span.SetAttributes(attribute.Int("incident_count", len(out.Incidents)))
		return json.Marshal(out)
	}
}
