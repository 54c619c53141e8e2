package obslog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := NewLog(filepath.Join(t.TempDir(), "executions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestRecordAndList(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	err := log.Record(ctx, []Record{
		{SessionID: "sess_1", TraceID: "trace_1", AgentName: "intent_classifier", TaskID: "task_a", DurationMS: 120, Outcome: "succeeded"},
		{SessionID: "sess_1", TraceID: "trace_1", AgentName: "response_synthesizer", TaskID: "task_b", DurationMS: 340, Outcome: "succeeded"},
		{SessionID: "sess_2", TraceID: "trace_2", AgentName: "intent_classifier", TaskID: "task_c", DurationMS: 90, Outcome: "timed_out"},
	})
	require.NoError(t, err)

	all, err := log.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	session, err := log.List(ctx, "sess_1", 0)
	require.NoError(t, err)
	assert.Len(t, session, 2)
	for _, r := range session {
		assert.Equal(t, "sess_1", r.SessionID)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.CreatedAt.IsZero())
	}

	limited, err := log.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordEmptyBatch(t *testing.T) {
	log := newTestLog(t)
	assert.NoError(t, log.Record(context.Background(), nil))
}
