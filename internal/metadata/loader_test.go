package metadata

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	generr "github.com/conduit-lang/svcgen/internal/errors"
)

func loadString(t *testing.T, doc string) (*Model, error) {
	t.Helper()
	return Load(strings.NewReader(doc), "test.yml")
}

func codes(t *testing.T, err error) []generr.ErrorCode {
	t.Helper()
	require.Error(t, err)

	var out []generr.ErrorCode
	if list, ok := err.(generr.List); ok {
		for _, e := range list {
			out = append(out, e.Code)
		}
		return out
	}
	e, ok := generr.As(err)
	require.True(t, ok, "expected structured error, got %v", err)
	return []generr.ErrorCode{e.Code}
}

func TestLoadMinimalInventory(t *testing.T) {
	m, err := LoadFile(filepath.Join("testdata", "inventory.yml"))
	require.NoError(t, err)

	assert.Equal(t, "inventory", m.Service.Name)
	assert.Equal(t, "com.example.inventory", m.Service.Package)
	assert.Empty(t, m.Service.Include)

	require.Len(t, m.Aggregates, 1)
	inv := m.Aggregates[0]
	assert.Equal(t, "Inventory", inv.Name)
	assert.Equal(t, []Field{{"id", "Long"}, {"stock", "Integer"}, {"productName", "String"}}, inv.Fields)

	require.Len(t, m.Events, 1)
	assert.Equal(t, "OrderPlaced", m.Events[0].Name)

	require.Len(t, m.Policies, 1)
	assert.Equal(t, []string{"StockDecreased"}, m.Policies[0].Emits)
	assert.Equal(t, []string{"OrderPlaced"}, m.TriggeringEvents())
}

func TestLoadFull(t *testing.T) {
	m, err := LoadFile(filepath.Join("testdata", "full.yml"))
	require.NoError(t, err)

	assert.Equal(t, 8082, m.Service.Port)
	assert.True(t, m.Service.Includes(IncludeDeploy))
	assert.Len(t, m.ValueObjects, 2)
	assert.Equal(t, []string{"OrderPlaced", "OrderCancelled"}, m.TriggeringEvents())
	assert.Len(t, m.PoliciesOn("OrderPlaced"), 2)
	assert.Len(t, m.CommandsFor("Inventory"), 1)
}

func TestLoadUndefinedPolicyEvent(t *testing.T) {
	_, err := loadString(t, `
service: { name: inventory, package: com.example.inventory }
aggregates:
  - name: Inventory
    fields: [{ name: id, type: Long }]
events:
  - { name: OrderPlaced, aggregate: Order }
policies:
  - on: OrderPlacd
    aggregate: Inventory
    emits: [StockDecreased]
`)
	require.Error(t, err)
	assert.Equal(t, 2, generr.ExitCode(err))

	e, ok := generr.As(err)
	require.True(t, ok)
	assert.Equal(t, generr.ErrUnresolvedEvent, e.Code)
	assert.Equal(t, "policies[0].on", e.Element)
	assert.Equal(t, "test.yml", e.Source)
	assert.Contains(t, e.Message, `"OrderPlacd"`)
	assert.Equal(t, []string{"OrderPlaced"}, e.Candidates)
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    []generr.ErrorCode
		element string
	}{
		{
			name: "empty document",
			doc:  ``,
			want: []generr.ErrorCode{generr.ErrMissingField},
		},
		{
			name:    "missing service",
			doc:     `aggregates: []`,
			want:    []generr.ErrorCode{generr.ErrMissingField},
			element: "service",
		},
		{
			name:    "missing package",
			doc:     `service: { name: inventory }`,
			want:    []generr.ErrorCode{generr.ErrMissingField},
			element: "service.package",
		},
		{
			name:    "bad service name",
			doc:     `service: { name: Inventory_Svc, package: com.example }`,
			want:    []generr.ErrorCode{generr.ErrInvalidIdentifier},
			element: "service.name",
		},
		{
			name:    "unknown include",
			doc:     `service: { name: inv, package: com.example, include: [helm] }`,
			want:    []generr.ErrorCode{generr.ErrInvalidInclude},
			element: "service.include[0]",
		},
		{
			name:    "port out of range",
			doc:     `service: { name: inv, package: com.example, port: 70000 }`,
			want:    []generr.ErrorCode{generr.ErrInvalidValue},
			element: "service.port",
		},
		{
			name: "unknown key",
			doc: `service: { name: inv, package: com.example }
agregates: []`,
			want: []generr.ErrorCode{generr.ErrMalformedDocument},
		},
		{
			name: "policy without emits",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory }]
events: [{ name: OrderPlaced, aggregate: Order }]
policies: [{ on: OrderPlaced, aggregate: Inventory }]`,
			want:    []generr.ErrorCode{generr.ErrMissingField},
			element: "policies[0].emits",
		},
		{
			name: "multi-line policy action",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory }]
events: [{ name: OrderPlaced, aggregate: Order }]
policies:
  - on: OrderPlaced
    aggregate: Inventory
    action: "reserve stock\nthen notify"
    emits: [StockReserved]`,
			want:    []generr.ErrorCode{generr.ErrInvalidValue},
			element: "policies[0].action",
		},
		{
			name: "command without aggregate",
			doc: `service: { name: inv, package: com.example }
commands: [{ name: Register, emits: Registered }]`,
			want:    []generr.ErrorCode{generr.ErrMissingField},
			element: "commands[0].aggregate",
		},
		{
			name: "field without type",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory, fields: [{ name: id }] }]`,
			want:    []generr.ErrorCode{generr.ErrMissingField},
			element: "aggregates[0].fields[0].type",
		},
		{
			name: "duplicate type name",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory }]
events: [{ name: Inventory, aggregate: Inventory }]`,
			want:    []generr.ErrorCode{generr.ErrDuplicateName},
			element: "events[0].name",
		},
		{
			name: "duplicate field",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory, fields: [{ name: id, type: Long }, { name: id, type: String }] }]`,
			want:    []generr.ErrorCode{generr.ErrDuplicateName},
			element: "aggregates[0].fields[1].name",
		},
		{
			name: "policy target aggregate undeclared",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory }]
events: [{ name: OrderPlaced, aggregate: Order }]
policies: [{ on: OrderPlaced, aggregate: Inventry, emits: [X] }]`,
			want:    []generr.ErrorCode{generr.ErrUnresolvedAggregate},
			element: "policies[0].aggregate",
		},
		{
			name: "command emits undeclared event",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory }]
commands: [{ name: Register, aggregate: Inventory, emits: Registered }]`,
			want:    []generr.ErrorCode{generr.ErrUnresolvedEvent},
			element: "commands[0].emits",
		},
		{
			name: "command event from foreign aggregate",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory }]
events: [{ name: Registered, aggregate: Catalog }]
commands: [{ name: Register, aggregate: Inventory, emits: Registered }]`,
			want:    []generr.ErrorCode{generr.ErrUnresolvedAggregate},
			element: "events[0].aggregate",
		},
		{
			name: "owned aggregate",
			doc: `service: { name: inv, package: com.example }
aggregates: [{ name: Inventory, valueObjects: [Warehouse] }, { name: Warehouse }]`,
			want:    []generr.ErrorCode{generr.ErrUnresolvedValueObject},
			element: "aggregates[0].valueObjects[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := loadString(t, tt.doc)
			assert.Nil(t, m)
			assert.Equal(t, tt.want, codes(t, err))
			assert.Equal(t, 2, generr.ExitCode(err))

			if tt.element != "" {
				e, ok := generr.As(err)
				require.True(t, ok)
				assert.Equal(t, tt.element, e.Element)
			}
		})
	}
}

func TestLoadReportsAllProblems(t *testing.T) {
	_, err := loadString(t, `
service: { name: inv, package: com.example }
aggregates: [{ name: Inventory }]
events: [{ name: OrderPlaced, aggregate: Order }]
policies:
  - { on: Missing1, aggregate: Inventory, emits: [A] }
  - { on: Missing2, aggregate: Nope, emits: [B] }
`)
	assert.Equal(t, []generr.ErrorCode{
		generr.ErrUnresolvedEvent,
		generr.ErrUnresolvedEvent,
		generr.ErrUnresolvedAggregate,
	}, codes(t, err))
}

func TestLoadDoesNotInventEntities(t *testing.T) {
	m, err := loadString(t, `
service: { name: inv, package: com.example }
aggregates: [{ name: Inventory }]
events: [{ name: OrderPlaced, aggregate: Order }]
policies: [{ on: OrderPlaced, aggregate: Inventory, emits: [StockDecreased] }]
`)
	require.NoError(t, err)

	// StockDecreased is only an emitted name; it does not become an event
	_, ok := m.Event("StockDecreased")
	assert.False(t, ok)
	assert.Len(t, m.Events, 1)
	assert.Empty(t, m.ValueObjects)
	assert.Empty(t, m.Commands)
	assert.Empty(t, m.Aggregates[0].Fields)
}
