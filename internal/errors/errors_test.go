package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", fmt.Errorf("boom"), 1},
		{"validation", NewMissingField("service.name"), 2},
		{"plan", NewOwnershipCycle([]string{"A", "B", "A"}), 3},
		{"render", NewUnboundPlaceholder("entity:Order", "entity.java", "Package"), 4},
		{"merge", NewMergeUnparsable("gateway/application.yml", "not a mapping"), 5},
		{"exhausted", NewExhaustedRetries("out/inventory", 2, 2), 6},
		{"tool failure", NewToolFailed("build", fmt.Errorf("not found")), 1},
		{"config", NewInvalidConfig("loop.max_iterations", "must be >= 1"), 1},
		{"wrapped", fmt.Errorf("generate: %w", NewMissingField("x")), 2},
		{"list", List{NewUnresolvedEvent("policies[0].on", "Foo", nil)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestUnresolvedSuggestion(t *testing.T) {
	err := NewUnresolvedEvent("policies[0].on", "OrderPlacd", []string{"OrderPlaced"})

	assert.Equal(t, ErrUnresolvedEvent, err.Code)
	assert.Equal(t, "policies[0].on", err.Element)
	assert.Equal(t, []string{"OrderPlaced"}, err.Candidates)
	assert.Contains(t, err.Suggestion, "OrderPlaced")
	assert.Contains(t, err.Error(), "policies[0].on")
	assert.Contains(t, err.Error(), `"OrderPlacd"`)
}

func TestFormatErrorNamesLocation(t *testing.T) {
	err := NewMergeUnparsable("gateway/src/main/resources/application.yml", "routes is not a sequence")

	out := err.Format()
	assert.Contains(t, out, "Merge error [MRG401]")
	assert.Contains(t, out, "gateway/src/main/resources/application.yml")
}

func TestListUnwrap(t *testing.T) {
	list := List{
		NewMissingField("service.name"),
		NewUnresolvedAggregate("commands[0].aggregate", "Ordr", []string{"Order"}),
	}

	e, ok := As(list)
	require.True(t, ok)
	assert.Equal(t, ErrMissingField, e.Code)

	assert.Nil(t, List{}.ErrOrNil())
	assert.Error(t, list.ErrOrNil())
	assert.True(t, strings.HasPrefix(list.Error(), "2 error(s)"))
}

func TestCauseUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewWriteFailed("out/a.java", cause)

	assert.True(t, stderrors.Is(err, cause))
}

func TestToJSON(t *testing.T) {
	out, err := NewNoTemplate("deploy:inventory", "deploy").ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "RND302", decoded["code"])
	assert.Equal(t, "render", decoded["category"])
	assert.Equal(t, "deploy:inventory", decoded["step"])
}
