package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_GeneratesSessionWhenEmpty(t *testing.T) {
	rc := New("", "user-1")
	assert.Contains(t, rc.SessionID, "sess_")
	assert.Contains(t, rc.TraceID, "trace_")
	assert.Equal(t, "user-1", rc.UserID)
	assert.False(t, rc.CreatedAt.IsZero())
}

func TestNew_KeepsSessionAcrossRequests(t *testing.T) {
	first := New("sess_abc", "user-1")
	second := New("sess_abc", "user-1")
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.TraceID, second.TraceID)
}

func TestSetFrom_RoundTrip(t *testing.T) {
	rc := New("", "")
	ctx := Set(context.Background(), rc)
	got, ok := From(ctx)
	require.True(t, ok)
	assert.Equal(t, rc, got)
}

func TestFrom_MissingReturnsFalse(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)
}
