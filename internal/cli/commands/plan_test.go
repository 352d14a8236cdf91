package commands

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	generr "github.com/conduit-lang/svcgen/internal/errors"
)

func TestPlanCommandTable(t *testing.T) {
	workspace(t, "")

	out, _, err := execute(t, "plan", "--metadata", "inventory.yml")
	require.NoError(t, err)

	assert.Contains(t, out, "Plan for inventory (6 steps)")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// title, blank line, header, separator, six steps
	assert.Len(t, lines, 10)
	assert.Contains(t, lines[4], "repository")
	assert.Contains(t, lines[9], "OrderPlaced")
}

func TestPlanCommandJSON(t *testing.T) {
	workspace(t, "")

	out, _, err := execute(t, "plan", "-m", "inventory.yml", "--json")
	require.NoError(t, err)

	var doc struct {
		Service string `json:"service"`
		Steps   []struct {
			Index int    `json:"index"`
			ID    string `json:"id"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "inventory", doc.Service)
	require.Len(t, doc.Steps, 6)
	assert.Equal(t, "repository:Inventory", doc.Steps[0].ID)
	assert.Equal(t, "test:OrderPlaced", doc.Steps[5].ID)
}

func TestPlanCommandValidationError(t *testing.T) {
	workspace(t, "")
	require.NoError(t, os.WriteFile("broken.yml", []byte("aggregates: []\n"), 0o644))

	_, _, err := execute(t, "plan", "-m", "broken.yml")
	require.Error(t, err)
	assert.Equal(t, 2, generr.ExitCode(err))
}

func TestValidateCommand(t *testing.T) {
	workspace(t, "")

	out, _, err := execute(t, "validate", "-m", "inventory.yml")
	require.NoError(t, err)
	assert.Contains(t, out, "inventory.yml: service inventory is valid (1 aggregates, 1 events, 1 policies)")
}

func TestValidateCommandReportsEveryDocument(t *testing.T) {
	workspace(t, "")
	broken := strings.Replace(inventoryDoc, "on: OrderPlaced", "on: OrderPlacd", 1)
	require.NoError(t, os.WriteFile("broken.yml", []byte(broken), 0o644))

	out, _, err := execute(t, "validate", "-m", "broken.yml", "-m", "inventory.yml")
	require.Error(t, err)
	assert.Equal(t, 2, generr.ExitCode(err))

	assert.Contains(t, out, "VALIDATION FAILED")
	assert.Contains(t, out, "Did you mean: OrderPlaced?")
	assert.Contains(t, out, "inventory.yml: service inventory is valid")
}
