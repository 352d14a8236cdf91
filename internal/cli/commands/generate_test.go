package commands

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	generr "github.com/conduit-lang/svcgen/internal/errors"
	"github.com/conduit-lang/svcgen/internal/loop"
)

const inventoryDoc = `service:
  name: inventory
  package: com.example.inventory

aggregates:
  - name: Inventory
    fields:
      - { name: id, type: Long }
      - { name: stock, type: Integer }

events:
  - name: OrderPlaced
    aggregate: Order
    fields:
      - { name: orderId, type: Long }

policies:
  - name: DecreaseStock
    on: OrderPlaced
    aggregate: Inventory
    emits: [StockDecreased]
`

// workspace creates a temporary working directory holding inventory.yml and,
// when config is not empty, an svcgen.yml
func workspace(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DATABASE_URL", "")
	require.NoError(t, os.WriteFile("inventory.yml", []byte(inventoryDoc), 0o644))
	if config != "" {
		require.NoError(t, os.WriteFile("svcgen.yml", []byte(config), 0o644))
	}
	return dir
}

func decodeOutcomes(t *testing.T, out string) []outcomeJSON {
	t.Helper()
	var docs []outcomeJSON
	require.NoError(t, json.Unmarshal([]byte(out), &docs), out)
	return docs
}

func TestGenerateCommandFlags(t *testing.T) {
	cmd := NewGenerateCommand()

	assert.Equal(t, "generate", cmd.Use)
	assert.Contains(t, cmd.Aliases, "g")
	for _, flag := range []string{"metadata", "out", "max-iterations", "skip-loop", "watch", "json", "parallel"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
	}
}

func TestGenerateRequiresMetadata(t *testing.T) {
	workspace(t, "")

	_, _, err := execute(t, "generate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata")
}

func TestGenerateSkipLoopJSON(t *testing.T) {
	dir := workspace(t, "")

	out, _, err := execute(t, "generate", "--metadata", "inventory.yml", "--out", "services", "--skip-loop", "--json")
	require.NoError(t, err)

	docs := decodeOutcomes(t, out)
	require.Len(t, docs, 1)
	assert.Equal(t, "inventory", docs[0].Service)
	assert.Equal(t, 0, docs[0].ExitCode)
	assert.Len(t, docs[0].Steps, 6)
	require.Len(t, docs[0].Artifacts, 6)
	for _, a := range docs[0].Artifacts {
		assert.Equal(t, "created", a.Status, a.Path)
	}
	assert.Nil(t, docs[0].Loop)
	assert.DirExists(t, filepath.Join(dir, "services", "inventory"))
}

func TestGenerateTableOutput(t *testing.T) {
	workspace(t, "")

	out, _, err := execute(t, "generate", "-m", "inventory.yml", "--skip-loop")
	require.NoError(t, err)
	assert.Contains(t, out, "inventory generated in")
	assert.Contains(t, out, "repository:Inventory")
	assert.Contains(t, out, "created")
	// the output directory comes from the configuration defaults
	assert.DirExists(t, filepath.Join("out", "inventory"))
}

func TestGenerateRunsLoop(t *testing.T) {
	workspace(t, "loop:\n  build_command: \"true\"\n  test_command: \"true\"\n")

	out, _, err := execute(t, "generate", "-m", "inventory.yml", "--json")
	require.NoError(t, err)

	docs := decodeOutcomes(t, out)
	require.Len(t, docs, 1)
	require.NotNil(t, docs[0].Loop)
	assert.Equal(t, loop.StateSuccess, docs[0].Loop.State)
	assert.Equal(t, 1, docs[0].Loop.Iterations)
	assert.NotEmpty(t, docs[0].Loop.RunID)
}

func TestGenerateExhaustedRetries(t *testing.T) {
	workspace(t, "loop:\n  build_command: \"false\"\n  test_command: \"true\"\n")

	out, _, err := execute(t, "generate", "-m", "inventory.yml", "--json", "--max-iterations", "2")
	require.Error(t, err)
	assert.Equal(t, 6, generr.ExitCode(err))

	var reported reportedError
	assert.True(t, errors.As(err, &reported), "outcome errors are printed by generate itself")

	docs := decodeOutcomes(t, out)
	require.Len(t, docs, 1)
	assert.Equal(t, 6, docs[0].ExitCode)
	require.NotNil(t, docs[0].Loop)
	assert.Equal(t, loop.StateExhaustedRetries, docs[0].Loop.State)
	assert.Len(t, docs[0].Loop.History, 2)
	require.Len(t, docs[0].Errors, 1)
	assert.Equal(t, generr.ErrExhaustedRetries, docs[0].Errors[0].Code)
}

func TestGenerateValidationError(t *testing.T) {
	workspace(t, "")
	require.NoError(t, os.WriteFile("broken.yml", []byte("service: { name: broken }\n"), 0o644))

	out, _, err := execute(t, "generate", "-m", "broken.yml", "-m", "inventory.yml", "--skip-loop")
	require.Error(t, err)
	assert.Equal(t, 2, generr.ExitCode(err))
	assert.Contains(t, out, "VALIDATION FAILED")
	assert.Contains(t, out, "service.package")
	// the valid document is still generated
	assert.Contains(t, out, "inventory generated in")
}

func TestGenerateMaxIterationsFlagValidated(t *testing.T) {
	workspace(t, "")

	_, _, err := execute(t, "generate", "-m", "inventory.yml", "--max-iterations", "0")
	require.Error(t, err)

	e, ok := generr.As(err)
	require.True(t, ok)
	assert.Equal(t, generr.ErrInvalidConfig, e.Code)
	assert.Equal(t, "loop.max_iterations", e.Element)
}

func TestGenerateConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		element string
	}{
		{"missing template overrides", "templates:\n  dir: no-such-dir\n", "templates.dir"},
		{"bad redis url", "lock:\n  redis_url: \"tcp://localhost\"\n", "lock.redis_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workspace(t, tt.config)

			_, _, err := execute(t, "generate", "-m", "inventory.yml", "--skip-loop")
			require.Error(t, err)
			e, ok := generr.As(err)
			require.True(t, ok, err.Error())
			assert.Equal(t, tt.element, e.Element)
		})
	}
}

func TestGenerateWithTemplateOverride(t *testing.T) {
	workspace(t, "templates:\n  dir: overrides\n")
	require.NoError(t, os.MkdirAll(filepath.Join("overrides", "repository"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("overrides", "repository", "Repository.java"),
		[]byte("// custom repository for {{.Aggregate.Name}}\n"), 0o644))

	_, _, err := execute(t, "generate", "-m", "inventory.yml", "--skip-loop", "--json")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join("out", "inventory", "src", "main", "java", "com", "example",
		"inventory", "domain", "InventoryRepository.java"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "// custom repository for Inventory"))
}

func TestStructuredErrors(t *testing.T) {
	assert.Nil(t, structuredErrors(nil))

	list := generr.List{generr.NewMissingField("service.name"), generr.NewMissingField("service.package")}
	assert.Len(t, structuredErrors(list), 2)

	plain := structuredErrors(errors.New("disk full"))
	require.Len(t, plain, 1)
	assert.Equal(t, "disk full", plain[0].Message)
}
