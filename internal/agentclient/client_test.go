package agentclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskResult_Constructors(t *testing.T) {
	ok := Succeed(json.RawMessage(`{"a":1}`))
	assert.True(t, ok.Succeeded())
	assert.False(t, ok.Retryable())

	fail := Fail(KindTransient, "boom")
	assert.False(t, fail.Succeeded())
	assert.True(t, fail.Retryable())

	perm := Fail(KindPermanent, "nope")
	assert.False(t, perm.Retryable())

	to := TimedOut("deadline")
	assert.Equal(t, StatusTimedOut, to.Status)
	assert.False(t, to.Retryable(), "timeouts are never retried")
}

func TestTask_Lifecycle(t *testing.T) {
	task := NewTask("intent_classifier", json.RawMessage(`{}`))
	assert.Contains(t, task.TaskID, "task_")
	assert.Equal(t, StatusPending, task.Status)

	task.Begin()
	assert.Equal(t, StatusRunning, task.Status)
	require.False(t, task.StartedAt.IsZero())

	time.Sleep(time.Millisecond)
	task.Complete(Succeed(json.RawMessage(`{"ok":true}`)))
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.False(t, task.CompletedAt.IsZero())
	assert.Greater(t, task.Duration, time.Duration(0))
}

func TestMarkTransient(t *testing.T) {
	base := errors.New("connection refused")
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(MarkTransient(base)))
	assert.True(t, IsTransient(fmt.Errorf("calling agent: %w", MarkTransient(base))))
	assert.Nil(t, MarkTransient(nil))
}
