package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/obslog"
	"github.com/caseflow-io/caseflow/internal/plan"
)

// ExecutionRecorder persists the run's per-task observability records in
// one batch.
func ExecutionRecorder(execLog *obslog.Log) agentclient.Func {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "agents.record_exec")
		defer span.End()

		var in plan.RecordExecutionsInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding execution records input: %w", err)
		}
		if execLog == nil || len(in.Records) == 0 {
			return json.RawMessage(`{}`), nil
		}
		span.SetAttributes(attribute.Int("record_count", len(in.Records)))

		records := make([]obslog.Record, 0, len(in.Records))
		for _, r := range in.Records {
			records = append(records, obslog.Record{
				SessionID:  in.SessionID,
				TraceID:    in.TraceID,
				AgentName:  r.AgentName,
				TaskID:     r.TaskID,
				DurationMS: r.DurationMS,
				Outcome:    r.Outcome,
			})
		}
		if err := execLog.Record(ctx, records); err != nil {
			return nil, agentclient.MarkTransient(fmt.Errorf("recording executions: %w", err))
		}
		return json.RawMessage(`{}`), nil
	}
}
