package render

import (
	"fmt"

	"github.com/conduit-lang/svcgen/internal/metadata"
	"github.com/conduit-lang/svcgen/internal/plan"
	strutil "github.com/conduit-lang/svcgen/internal/util/strings"
)

// Bindings hold only values the metadata declares. Empty strings, zero
// numbers and empty lists are left out, so a template that needs them fails
// with an unbound placeholder instead of rendering a guess.

func set(m map[string]interface{}, key string, v interface{}) {
	switch x := v.(type) {
	case string:
		if x == "" {
			return
		}
	case int:
		if x == 0 {
			return
		}
	case []string:
		if len(x) == 0 {
			return
		}
	case []map[string]interface{}:
		if len(x) == 0 {
			return
		}
	case map[string]interface{}:
		if len(x) == 0 {
			return
		}
	}
	m[key] = v
}

func bindingsFor(step plan.Step, m *metadata.Model) (map[string]interface{}, error) {
	data := map[string]interface{}{
		"Service": serviceBinding(m.Service),
		"Step": map[string]interface{}{
			"ID":   step.ID,
			"Kind": string(step.Kind),
			"Ref":  step.Ref,
		},
		"Target": string(step.Target),
	}

	switch step.Target {
	case plan.TargetAggregate:
		a, ok := m.Aggregate(step.Ref)
		if !ok {
			return nil, fmt.Errorf("aggregate %q is not in the model", step.Ref)
		}
		data["Aggregate"] = aggregateBinding(a, m)

	case plan.TargetValueObject:
		v, ok := m.ValueObject(step.Ref)
		if !ok {
			return nil, fmt.Errorf("value object %q is not in the model", step.Ref)
		}
		vo := map[string]interface{}{"Name": v.Name}
		set(vo, "Fields", fieldsBinding(v.Fields))
		set(vo, "ValueObjects", v.ValueObjects)
		data["ValueObject"] = vo

	case plan.TargetEvent:
		e, ok := m.Event(step.Ref)
		if !ok {
			return nil, fmt.Errorf("event %q is not in the model", step.Ref)
		}
		data["Event"] = eventBinding(e)
		policies, repositories, publishes := policyBindings(m.PoliciesOn(e.Name))
		set(data, "Policies", policies)
		set(data, "Repositories", repositories)
		set(data, "Publishes", publishes)

	case plan.TargetCommand:
		var cmd *metadata.Command
		for i := range m.Commands {
			if m.Commands[i].Name == step.Ref {
				cmd = &m.Commands[i]
				break
			}
		}
		if cmd == nil {
			return nil, fmt.Errorf("command %q is not in the model", step.Ref)
		}
		c := map[string]interface{}{}
		set(c, "Name", cmd.Name)
		set(c, "Aggregate", cmd.Aggregate)
		set(c, "Emits", cmd.Emits)
		data["Command"] = c

	case plan.TargetService:
		aggregates := make([]map[string]interface{}, 0, len(m.Aggregates))
		for _, a := range m.Aggregates {
			aggregates = append(aggregates, aggregateBinding(a, m))
		}
		events := make([]map[string]interface{}, 0, len(m.Events))
		for _, e := range m.Events {
			events = append(events, eventBinding(e))
		}
		set(data, "Aggregates", aggregates)
		set(data, "Events", events)
		set(data, "Topics", topicsBinding(m))

	default:
		return nil, fmt.Errorf("unknown step target %q", step.Target)
	}

	return data, nil
}

func serviceBinding(s metadata.Service) map[string]interface{} {
	b := map[string]interface{}{}
	set(b, "Name", s.Name)
	set(b, "Package", s.Package)
	set(b, "Port", s.Port)
	set(b, "Version", s.Version)
	set(b, "Include", s.Include)
	return b
}

func fieldsBinding(fields []metadata.Field) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(fields))
	for _, f := range fields {
		b := map[string]interface{}{}
		set(b, "Name", f.Name)
		set(b, "Type", f.Type)
		out = append(out, b)
	}
	return out
}

func aggregateBinding(a metadata.Aggregate, m *metadata.Model) map[string]interface{} {
	b := map[string]interface{}{"Name": a.Name}
	set(b, "Fields", fieldsBinding(a.Fields))
	set(b, "ValueObjects", a.ValueObjects)
	for _, f := range a.Fields {
		if f.Name == "id" {
			set(b, "IdType", f.Type)
		}
	}

	var commands []map[string]interface{}
	for _, c := range m.CommandsFor(a.Name) {
		commands = append(commands, map[string]interface{}{"Name": c.Name, "Emits": c.Emits})
	}
	set(b, "Commands", commands)
	return b
}

func eventBinding(e metadata.Event) map[string]interface{} {
	b := map[string]interface{}{"Name": e.Name, "Topic": Topic(e.Name)}
	set(b, "Aggregate", e.Aggregate)
	set(b, "Fields", fieldsBinding(e.Fields))
	return b
}

// policyBindings builds the handler list, the distinct target aggregates and
// the per-topic publish counts of the policies triggered by one event
func policyBindings(policies []metadata.Policy) (handlers []map[string]interface{}, repositories []string, publishes []map[string]interface{}) {
	usedHandlers := make(map[string]int)
	seenRepo := make(map[string]bool)
	publishIndex := make(map[string]int)

	for _, p := range policies {
		base := strutil.ToCamelCase(p.Name)
		if base == "" {
			base = "apply" + p.Aggregate
		}
		handler := base
		usedHandlers[base]++
		if n := usedHandlers[base]; n > 1 {
			handler = fmt.Sprintf("%s%d", base, n)
		}

		emits := make([]map[string]interface{}, 0, len(p.Emits))
		for _, name := range p.Emits {
			topic := Topic(name)
			emits = append(emits, map[string]interface{}{"Name": name, "Topic": topic})

			if i, ok := publishIndex[topic]; ok {
				publishes[i]["Count"] = publishes[i]["Count"].(int) + 1
				continue
			}
			publishIndex[topic] = len(publishes)
			publishes = append(publishes, map[string]interface{}{"Topic": topic, "Count": 1})
		}

		h := map[string]interface{}{"Handler": handler}
		set(h, "Name", p.Name)
		set(h, "Aggregate", p.Aggregate)
		set(h, "Action", p.Action)
		set(h, "Emits", emits)
		handlers = append(handlers, h)

		if !seenRepo[p.Aggregate] {
			seenRepo[p.Aggregate] = true
			repositories = append(repositories, p.Aggregate)
		}
	}
	return handlers, repositories, publishes
}

// topicsBinding lists every topic the service touches: declared events,
// then policy results, deduplicated
func topicsBinding(m *metadata.Model) []map[string]interface{} {
	var out []map[string]interface{}
	seen := make(map[string]bool)
	add := func(name string) {
		topic := Topic(name)
		if seen[topic] {
			return
		}
		seen[topic] = true
		out = append(out, map[string]interface{}{
			"Name":  name,
			"Topic": topic,
			"Bean":  strutil.ToCamelCase(name) + "Topic",
		})
	}

	for _, e := range m.Events {
		add(e.Name)
	}
	for _, p := range m.Policies {
		for _, name := range p.Emits {
			add(name)
		}
	}
	return out
}

// Topic returns the Kafka topic name for an event
func Topic(event string) string {
	return strutil.ToKebabCase(event)
}
