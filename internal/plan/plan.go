// Package plan turns a validated metadata model into an ordered, deterministic
// sequence of generation steps.
package plan

import (
	stderrors "errors"
	"fmt"
	"strings"

	generr "github.com/conduit-lang/svcgen/internal/errors"
	"github.com/conduit-lang/svcgen/internal/metadata"
)

// Kind identifies what a step generates
type Kind string

const (
	KindRepository    Kind = "repository"
	KindEvent         Kind = "event"
	KindEntity        Kind = "entity"
	KindValueObject   Kind = "value-object"
	KindListener      Kind = "listener"
	KindRest          Kind = "rest"
	KindBootstrap     Kind = "bootstrap"
	KindConfiguration Kind = "configuration"
	KindBuild         Kind = "build"
	KindDeploy        Kind = "deploy"
	KindTest          Kind = "test"
)

// Kinds lists every step kind in plan precedence order
var Kinds = []Kind{
	KindRepository,
	KindEvent,
	KindEntity,
	KindValueObject,
	KindListener,
	KindRest,
	KindBootstrap,
	KindConfiguration,
	KindBuild,
	KindDeploy,
	KindTest,
}

// Rank returns the precedence of a kind, or -1 if the kind is unknown
func (k Kind) Rank() int {
	for i, kind := range Kinds {
		if kind == k {
			return i
		}
	}
	return -1
}

// Target says which kind of model element a step's Ref names
type Target string

const (
	TargetAggregate   Target = "aggregate"
	TargetValueObject Target = "value-object"
	TargetEvent       Target = "event"
	TargetCommand     Target = "command"
	TargetService     Target = "service"
)

// Step is one unit of generation
type Step struct {
	Kind   Kind
	Ref    string
	Target Target
	Index  int
	ID     string
}

// String returns the canonical one-line form of a step
func (s Step) String() string {
	return fmt.Sprintf("%03d %s", s.Index, s.ID)
}

// Plan is an ordered sequence of steps
type Plan struct {
	Service string
	Steps   []Step
}

// String renders the plan in its canonical text form, one step per line
func (p *Plan) String() string {
	var b strings.Builder
	for _, s := range p.Steps {
		b.WriteString(s.String())
		b.WriteString("\n")
	}
	return b.String()
}

// Count returns the number of steps of a kind
func (p *Plan) Count(kind Kind) int {
	n := 0
	for _, s := range p.Steps {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// Step returns the step with the given ID
func (p *Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// StepID builds the identifier of a step
func StepID(kind Kind, ref string) string {
	return string(kind) + ":" + ref
}

// Build produces the generation plan for a model. Steps follow the fixed kind
// precedence and, within a kind, declaration order.
func Build(m *metadata.Model) (*Plan, error) {
	if m == nil {
		return nil, fmt.Errorf("plan: nil model")
	}

	valueObjects, err := orderValueObjects(m)
	if err != nil {
		return nil, err
	}

	p := &Plan{Service: m.Service.Name}
	add := func(kind Kind, target Target, ref string) {
		p.Steps = append(p.Steps, Step{
			Kind:   kind,
			Ref:    ref,
			Target: target,
			Index:  len(p.Steps),
			ID:     StepID(kind, ref),
		})
	}

	for _, a := range m.Aggregates {
		add(KindRepository, TargetAggregate, a.Name)
	}
	for _, e := range m.Events {
		add(KindEvent, TargetEvent, e.Name)
	}
	for _, a := range m.Aggregates {
		add(KindEntity, TargetAggregate, a.Name)
	}
	for _, name := range valueObjects {
		add(KindValueObject, TargetValueObject, name)
	}
	listeners := m.TriggeringEvents()
	for _, event := range listeners {
		add(KindListener, TargetEvent, event)
	}
	if m.Service.Includes(metadata.IncludeRest) {
		for _, c := range m.Commands {
			add(KindRest, TargetCommand, c.Name)
		}
	}
	for _, kind := range []Kind{KindBootstrap, KindConfiguration, KindBuild, KindDeploy} {
		if m.Service.Includes(string(kind)) {
			add(kind, TargetService, m.Service.Name)
		}
	}
	for _, a := range m.Aggregates {
		add(KindTest, TargetAggregate, a.Name)
	}
	for _, event := range listeners {
		add(KindTest, TargetEvent, event)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := p.ValidateOwnership(m); err != nil {
		return nil, err
	}
	return p, nil
}

// orderValueObjects returns value-object names with owned types before their
// owners, declaration order otherwise
func orderValueObjects(m *metadata.Model) ([]string, error) {
	g := NewGraph()
	for i, v := range m.ValueObjects {
		for j, ref := range v.ValueObjects {
			if _, ok := m.Aggregate(ref); ok {
				return nil, generr.NewAggregateAsValueObject(
					fmt.Sprintf("valueObjects[%d].valueObjects[%d]", i, j), ref)
			}
		}
		g.AddNode(v.Name, v.ValueObjects)
	}
	for i, a := range m.Aggregates {
		for j, ref := range a.ValueObjects {
			if _, ok := m.Aggregate(ref); ok {
				return nil, generr.NewAggregateAsValueObject(
					fmt.Sprintf("aggregates[%d].valueObjects[%d]", i, j), ref)
			}
		}
	}

	order, err := g.TopologicalSort()
	if err != nil {
		var cycle *CycleError
		if stderrors.As(err, &cycle) {
			return nil, generr.NewOwnershipCycle(cycle.Members)
		}
		return nil, err
	}
	return order, nil
}

// Validate re-checks the ordering invariants of a plan: kind precedence,
// unique IDs, each aggregate's repository before its entity, each declared
// event's type before its listener, and owned value objects before owners.
func (p *Plan) Validate() error {
	pos := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if _, dup := pos[s.ID]; dup {
			return generr.NewOrderViolation(s.ID, "a unique step id")
		}
		pos[s.ID] = i
	}

	lastRank := -1
	for i, s := range p.Steps {
		rank := s.Kind.Rank()
		if rank < 0 {
			return generr.NewOrderViolation(s.ID, "a known step kind")
		}
		if rank < lastRank {
			return generr.NewOrderViolation(s.ID, "every step of kind "+string(s.Kind))
		}
		lastRank = rank

		switch s.Kind {
		case KindEntity:
			if j, ok := pos[StepID(KindRepository, s.Ref)]; !ok || j > i {
				return generr.NewOrderViolation(s.ID, StepID(KindRepository, s.Ref))
			}
		case KindListener:
			if j, ok := pos[StepID(KindEvent, s.Ref)]; ok && j > i {
				return generr.NewOrderViolation(s.ID, StepID(KindEvent, s.Ref))
			}
		}
	}
	return nil
}

// ValidateOwnership checks that every value object a model owns is generated
// before the value object that owns it
func (p *Plan) ValidateOwnership(m *metadata.Model) error {
	pos := make(map[string]int)
	for _, s := range p.Steps {
		if s.Kind == KindValueObject {
			pos[s.Ref] = s.Index
		}
	}
	for _, v := range m.ValueObjects {
		for _, owned := range v.ValueObjects {
			if pos[owned] > pos[v.Name] {
				return generr.NewOrderViolation(StepID(KindValueObject, v.Name), StepID(KindValueObject, owned))
			}
		}
	}
	return nil
}
