package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/memory"
	"github.com/caseflow-io/caseflow/internal/plan"
)

// MemoryWriter files the incident in episodic memory and refreshes the
// session's working-memory pointer to it. A duplicate incident_id means a
// retry of an already-landed write and is treated as success.
func MemoryWriter(store *memory.Store, workingTTL time.Duration) agentclient.Func {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "agents.memory_write")
		defer span.End()

		var in plan.MemoryWriteInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding memory write input: %w", err)
		}
		if store == nil {
			return json.RawMessage(`{}`), nil
		}
		span.SetAttributes(attribute.String("incident_id", in.IncidentID))

		err := store.WriteEpisodic(ctx, &memory.Incident{
			IncidentID: in.IncidentID,
			SessionID:  in.SessionID,
			UserID:     in.UserID,
			QueryText:  in.QueryText,
			Resolution: in.Resolution,
			Outcome:    in.Outcome,
			Tags:       in.Tags,
		})
		switch {
		case errors.Is(err, memory.ErrConflict):
			log.Debug().Str("incident_id", in.IncidentID).Msg("episodic_write_replayed")
		case err != nil:
			return nil, agentclient.MarkTransient(fmt.Errorf("episodic write: %w", err))
		}

		pointer, _ := json.Marshal(memory.LastIncident{
			IncidentID: in.IncidentID,
			Outcome:    in.Outcome,
			Category:   in.Category,
		})
		if err := store.WriteWorking(ctx, in.SessionID, memory.WorkingKeyLastIncident, pointer, workingTTL); err != nil {
			return nil, agentclient.MarkTransient(fmt.Errorf("working write: %w", err))
		}
		return json.RawMessage(`{}`), nil
	}
}
