package writer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routesPath = "spring.cloud.gateway.routes"

func TestMergeRoute(t *testing.T) {
	entry := []byte("id: inventory\nuri: http://inventory:8082\n")

	tests := []struct {
		name      string
		existing  string
		wantAdded bool
		wantErr   string
		contains  []string
	}{
		{
			name:      "flow empty sequence",
			existing:  "spring:\n  cloud:\n    gateway:\n      routes: []\n",
			wantAdded: true,
			contains:  []string{"- id: inventory", "uri: http://inventory:8082"},
		},
		{
			name:      "null routes",
			existing:  "spring:\n  cloud:\n    gateway:\n      routes:\n",
			wantAdded: true,
			contains:  []string{"- id: inventory"},
		},
		{
			name: "keeps other routes and comments",
			existing: "# gateway for all services\nspring:\n  cloud:\n    gateway:\n      routes:\n" +
				"        - id: catalog # catalog service\n          uri: http://catalog:8081\n",
			wantAdded: true,
			contains:  []string{"# gateway for all services", "id: catalog", "# catalog service", "id: inventory"},
		},
		{
			name:      "already present",
			existing:  "spring:\n  cloud:\n    gateway:\n      routes:\n        - id: inventory\n          uri: http://old:1\n",
			wantAdded: false,
			contains:  []string{"uri: http://old:1"},
		},
		{
			name:     "routes not a sequence",
			existing: "spring:\n  cloud:\n    gateway:\n      routes: inventory\n",
			wantErr:  "spring.cloud.gateway.routes is not a sequence",
		},
		{
			name:     "missing gateway",
			existing: "spring:\n  cloud: {}\n",
			wantErr:  "spring.cloud.gateway is missing",
		},
		{
			name:     "root not a mapping",
			existing: "- a\n- b\n",
			wantErr:  "document root is not a mapping",
		},
		{
			name:     "empty document",
			existing: "",
			wantErr:  "document is empty",
		},
		{
			name:     "invalid yaml",
			existing: "spring: [unclosed\n",
			wantErr:  "invalid YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, added, err := mergeRoute([]byte(tt.existing), entry, "inventory", routesPath)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdded, added)
			for _, s := range tt.contains {
				assert.Contains(t, string(out), s)
			}
			assert.Equal(t, 1, strings.Count(string(out), "id: inventory"))
		})
	}
}

func TestMergeRouteIsStable(t *testing.T) {
	existing := []byte("spring:\n  cloud:\n    gateway:\n      routes: []\n")
	entry := []byte("id: inventory\nuri: http://inventory:8082\n")

	first, added, err := mergeRoute(existing, entry, "inventory", routesPath)
	require.NoError(t, err)
	require.True(t, added)

	second, added, err := mergeRoute(first, entry, "inventory", routesPath)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first, second)
}

func TestMergeRouteEntryKeyMismatch(t *testing.T) {
	existing := []byte("spring:\n  cloud:\n    gateway:\n      routes: []\n")

	_, _, err := mergeRoute(existing, []byte("id: catalog\n"), "inventory", routesPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `does not match key "inventory"`)
}
