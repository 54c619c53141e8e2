package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmission_DefaultAllowsEverything(t *testing.T) {
	ctx := context.Background()
	engine, err := NewAdmission(ctx, DefaultRouting())
	require.NoError(t, err)

	decision, err := engine.Evaluate(ctx, map[string]interface{}{
		"user_id":     "user-1",
		"text_length": 200,
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reasons)
}

func TestAdmission_CustomDenyRule(t *testing.T) {
	ctx := context.Background()
	r := DefaultRouting()
	r.Admission = `package caseflow.admission

deny contains msg if {
	input.text_length > 10000
	msg := "request text exceeds limit"
}

deny contains msg if {
	input.user_id == "blocked-user"
	msg := "user is blocked"
}
`
	engine, err := NewAdmission(ctx, r)
	require.NoError(t, err)

	decision, err := engine.Evaluate(ctx, map[string]interface{}{
		"user_id":     "blocked-user",
		"text_length": 20000,
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Len(t, decision.Reasons, 2)

	decision, err = engine.Evaluate(ctx, map[string]interface{}{
		"user_id":     "user-1",
		"text_length": 50,
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAdmission_BadRegoFailsAtConstruction(t *testing.T) {
	r := DefaultRouting()
	r.Admission = "package caseflow.admission\n\ndeny[msg] {" // unterminated
	_, err := NewAdmission(context.Background(), r)
	assert.Error(t, err)
}
