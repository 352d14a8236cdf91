package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/svcgen/internal/cli/config"
	"github.com/conduit-lang/svcgen/internal/metadata"
	"github.com/conduit-lang/svcgen/internal/plan"
)

func TestInitWritesLoadableFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")

	out, _, err := execute(t, "init", "--dir", dir, "--service", "order-service", "--port", "8081",
		"--include", "rest,configuration", "--max-iterations", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	m, err := metadata.LoadFile(filepath.Join(dir, "order-service.yml"))
	require.NoError(t, err)
	assert.Equal(t, "order-service", m.Service.Name)
	assert.Equal(t, "com.example.orderservice", m.Service.Package)
	assert.Equal(t, 8081, m.Service.Port)
	assert.Equal(t, []string{"rest", "configuration"}, m.Service.Include)
	require.Len(t, m.Aggregates, 1)
	assert.Equal(t, "OrderService", m.Aggregates[0].Name)

	p, err := plan.Build(m)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Steps)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Loop.MaxIterations)
}

func TestInitKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(existing, []byte("output: mine\n"), 0o644))

	out, _, err := execute(t, "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "exists, keeping it")

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "output: mine\n", string(data))
	assert.FileExists(t, filepath.Join(dir, "inventory.yml"))

	_, _, err = execute(t, "init", "--dir", dir, "--force")
	require.NoError(t, err)
	data, err = os.ReadFile(existing)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_iterations: 3")
}

func TestInitRejectsInvalidStarter(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "init", "--dir", dir, "--service", "Bad_Name")
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "Bad_Name.yml"))
	assert.NoFileExists(t, filepath.Join(dir, config.FileName))
}

func TestInitValidators(t *testing.T) {
	assert.NoError(t, validateServiceName("inventory"))
	assert.Error(t, validateServiceName("Inventory"))
	assert.NoError(t, validatePort("8080"))
	assert.Error(t, validatePort("0"))
	assert.Error(t, validatePort("http"))
	assert.NoError(t, validatePositive("3"))
	assert.Error(t, validatePositive("0"))
}
