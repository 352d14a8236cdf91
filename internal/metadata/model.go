// Package metadata loads and validates the service metadata document that
// drives generation: aggregates, value objects, commands, events, and policies.
//
// A Model is immutable once Load returns it. Nothing in a Model is inferred;
// every entity traces back to an explicit entry in the source document.
package metadata

// Include kinds name the optional service-level step kinds a document opts into.
const (
	IncludeRest          = "rest"
	IncludeBootstrap     = "bootstrap"
	IncludeConfiguration = "configuration"
	IncludeBuild         = "build"
	IncludeDeploy        = "deploy"
)

// IncludeKinds lists every valid include kind in plan order
var IncludeKinds = []string{
	IncludeRest,
	IncludeBootstrap,
	IncludeConfiguration,
	IncludeBuild,
	IncludeDeploy,
}

// Model is the validated root of a metadata document
type Model struct {
	Source       string
	Service      Service
	Aggregates   []Aggregate
	ValueObjects []ValueObject
	Commands     []Command
	Events       []Event
	Policies     []Policy
}

// Service identifies the generated microservice
type Service struct {
	Name    string
	Package string
	Port    int
	Version string
	Include []string
}

// Includes reports whether the service opted into a service-level step kind
func (s Service) Includes(kind string) bool {
	for _, k := range s.Include {
		if k == kind {
			return true
		}
	}
	return false
}

// Field is a typed, ordered member of an aggregate, value object, or event
type Field struct {
	Name string
	Type string
}

// Aggregate is a consistency boundary entity
type Aggregate struct {
	Name         string
	Fields       []Field
	ValueObjects []string
}

// ValueObject is an immutable type owned by an aggregate or another value object
type ValueObject struct {
	Name         string
	Fields       []Field
	ValueObjects []string
}

// Command is an intent handled by an aggregate that emits an event
type Command struct {
	Name      string
	Aggregate string
	Emits     string
}

// Event is a fact published by an aggregate. Its origin aggregate may belong
// to another service.
type Event struct {
	Name      string
	Aggregate string
	Fields    []Field
}

// Policy reacts to an event by acting on an aggregate and emitting events
type Policy struct {
	Name      string
	On        string
	Aggregate string
	Action    string
	Emits     []string
}

// Aggregate returns the aggregate with the given name
func (m *Model) Aggregate(name string) (Aggregate, bool) {
	for _, a := range m.Aggregates {
		if a.Name == name {
			return a, true
		}
	}
	return Aggregate{}, false
}

// ValueObject returns the value object with the given name
func (m *Model) ValueObject(name string) (ValueObject, bool) {
	for _, v := range m.ValueObjects {
		if v.Name == name {
			return v, true
		}
	}
	return ValueObject{}, false
}

// Event returns the event with the given name
func (m *Model) Event(name string) (Event, bool) {
	for _, e := range m.Events {
		if e.Name == name {
			return e, true
		}
	}
	return Event{}, false
}

// PoliciesOn returns the policies triggered by an event, in declaration order
func (m *Model) PoliciesOn(event string) []Policy {
	var out []Policy
	for _, p := range m.Policies {
		if p.On == event {
			out = append(out, p)
		}
	}
	return out
}

// TriggeringEvents returns the distinct triggering event names of all
// policies, in order of first appearance.
func (m *Model) TriggeringEvents() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range m.Policies {
		if !seen[p.On] {
			seen[p.On] = true
			out = append(out, p.On)
		}
	}
	return out
}

// CommandsFor returns the commands handled by an aggregate
func (m *Model) CommandsFor(aggregate string) []Command {
	var out []Command
	for _, c := range m.Commands {
		if c.Aggregate == aggregate {
			out = append(out, c)
		}
	}
	return out
}
