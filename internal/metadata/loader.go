package metadata

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	generr "github.com/conduit-lang/svcgen/internal/errors"
	strutil "github.com/conduit-lang/svcgen/internal/util/strings"
)

// document mirrors the YAML layout of a metadata file. Validation tags cover
// presence and syntax; cross-references are resolved in resolve.
type document struct {
	Service      *rawService      `yaml:"service" validate:"required"`
	Aggregates   []rawAggregate   `yaml:"aggregates" validate:"dive"`
	ValueObjects []rawValueObject `yaml:"valueObjects" validate:"dive"`
	Commands     []rawCommand     `yaml:"commands" validate:"dive"`
	Events       []rawEvent       `yaml:"events" validate:"dive"`
	Policies     []rawPolicy      `yaml:"policies" validate:"dive"`
}

type rawService struct {
	Name    string   `yaml:"name" validate:"required,svcname"`
	Package string   `yaml:"package" validate:"required,javapkg"`
	Port    int      `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Version string   `yaml:"version"`
	Include []string `yaml:"include" validate:"dive,oneof=rest bootstrap configuration build deploy"`
}

type rawField struct {
	Name string `yaml:"name" validate:"required,ident"`
	Type string `yaml:"type" validate:"required"`
}

type rawAggregate struct {
	Name         string     `yaml:"name" validate:"required,ident"`
	Fields       []rawField `yaml:"fields" validate:"dive"`
	ValueObjects []string   `yaml:"valueObjects" validate:"dive,ident"`
}

type rawValueObject struct {
	Name         string     `yaml:"name" validate:"required,ident"`
	Fields       []rawField `yaml:"fields" validate:"dive"`
	ValueObjects []string   `yaml:"valueObjects" validate:"dive,ident"`
}

type rawCommand struct {
	Name      string `yaml:"name" validate:"required,ident"`
	Aggregate string `yaml:"aggregate" validate:"required,ident"`
	Emits     string `yaml:"emits" validate:"required,ident"`
}

type rawEvent struct {
	Name      string     `yaml:"name" validate:"required,ident"`
	Aggregate string     `yaml:"aggregate" validate:"required,ident"`
	Fields    []rawField `yaml:"fields" validate:"dive"`
}

type rawPolicy struct {
	Name      string   `yaml:"name" validate:"omitempty,ident"`
	On        string   `yaml:"on" validate:"required,ident"`
	Aggregate string   `yaml:"aggregate" validate:"required,ident"`
	Action    string   `yaml:"action" validate:"omitempty,singleline"`
	Emits     []string `yaml:"emits" validate:"required,min=1,dive,ident"`
}

var (
	identPattern      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	packagePattern    = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)
	servicePattern    = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	singleLinePattern = regexp.MustCompile(`^[^\r\n]*$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()

	// Report element paths with YAML names: policies[0].on
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "ident", identPattern)
	mustRegister(v, "javapkg", packagePattern)
	mustRegister(v, "svcname", servicePattern)
	mustRegister(v, "singleline", singleLinePattern)
	return v
}

func mustRegister(v *validator.Validate, tag string, pattern *regexp.Regexp) {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return pattern.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

// LoadFile reads and validates a metadata document from disk
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata %s: %w", path, err)
	}
	return Load(bytes.NewReader(data), path)
}

// Load parses and validates a metadata document. Every problem found is
// reported; the returned error is an errors.List of validation errors.
func Load(r io.Reader, source string) (*Model, error) {
	var doc document

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, generr.NewMissingField("service").WithSource(source)
		}
		return nil, generr.NewMalformedDocument(source, err)
	}

	if errs := structErrors(&doc); len(errs) > 0 {
		return nil, withSource(errs, source)
	}

	m := build(&doc, source)
	if errs := resolve(m); len(errs) > 0 {
		return nil, withSource(errs, source)
	}

	return m, nil
}

func withSource(errs generr.List, source string) generr.List {
	for _, e := range errs {
		e.WithSource(source)
	}
	return errs
}

// structErrors converts validator failures to element-addressed errors
func structErrors(doc *document) generr.List {
	err := validate.Struct(doc)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return generr.List{generr.NewMalformedDocument("", err)}
	}

	var out generr.List
	for _, fe := range verrs {
		element := strings.TrimPrefix(fe.Namespace(), "document.")
		switch fe.Tag() {
		case "required":
			out = append(out, generr.NewMissingField(element))
		case "min", "max":
			if fe.Kind() == reflect.Int {
				out = append(out, generr.NewInvalidValue(element,
					fmt.Sprintf("%v is outside the allowed range (%s %s)", fe.Value(), fe.Tag(), fe.Param())))
				continue
			}
			out = append(out, generr.NewMissingField(element))
		case "ident", "javapkg", "svcname":
			out = append(out, generr.NewInvalidIdentifier(element, fmt.Sprint(fe.Value())))
		case "singleline":
			out = append(out, generr.NewInvalidValue(element, "must be a single line"))
		case "oneof":
			out = append(out, generr.NewInvalidInclude(element, fmt.Sprint(fe.Value()), IncludeKinds))
		default:
			out = append(out, generr.NewInvalidValue(element, fmt.Sprintf("fails %q constraint", fe.Tag())))
		}
	}
	return out
}

func build(doc *document, source string) *Model {
	m := &Model{
		Source: source,
		Service: Service{
			Name:    doc.Service.Name,
			Package: doc.Service.Package,
			Port:    doc.Service.Port,
			Version: doc.Service.Version,
			Include: append([]string(nil), doc.Service.Include...),
		},
	}

	for _, a := range doc.Aggregates {
		m.Aggregates = append(m.Aggregates, Aggregate{
			Name:         a.Name,
			Fields:       fields(a.Fields),
			ValueObjects: append([]string(nil), a.ValueObjects...),
		})
	}
	for _, v := range doc.ValueObjects {
		m.ValueObjects = append(m.ValueObjects, ValueObject{
			Name:         v.Name,
			Fields:       fields(v.Fields),
			ValueObjects: append([]string(nil), v.ValueObjects...),
		})
	}
	for _, c := range doc.Commands {
		m.Commands = append(m.Commands, Command(c))
	}
	for _, e := range doc.Events {
		m.Events = append(m.Events, Event{
			Name:      e.Name,
			Aggregate: e.Aggregate,
			Fields:    fields(e.Fields),
		})
	}
	for _, p := range doc.Policies {
		m.Policies = append(m.Policies, Policy{
			Name:      p.Name,
			On:        p.On,
			Aggregate: p.Aggregate,
			Action:    p.Action,
			Emits:     append([]string(nil), p.Emits...),
		})
	}
	return m
}

func fields(raw []rawField) []Field {
	out := make([]Field, 0, len(raw))
	for _, f := range raw {
		out = append(out, Field(f))
	}
	return out
}

// resolve checks name uniqueness and cross-references
func resolve(m *Model) generr.List {
	var errs generr.List

	// Aggregates, value objects, and events become Java types in one package,
	// so they share a namespace.
	declared := make(map[string]string)
	declare := func(name, element string) {
		if first, ok := declared[name]; ok {
			errs = append(errs, generr.NewDuplicateName(element, name, first))
			return
		}
		declared[name] = element
	}

	aggregates := make([]string, 0, len(m.Aggregates))
	for i, a := range m.Aggregates {
		declare(a.Name, fmt.Sprintf("aggregates[%d].name", i))
		aggregates = append(aggregates, a.Name)
		errs = append(errs, checkFields(fmt.Sprintf("aggregates[%d]", i), a.Fields)...)
	}
	valueObjects := make([]string, 0, len(m.ValueObjects))
	for i, v := range m.ValueObjects {
		declare(v.Name, fmt.Sprintf("valueObjects[%d].name", i))
		valueObjects = append(valueObjects, v.Name)
		errs = append(errs, checkFields(fmt.Sprintf("valueObjects[%d]", i), v.Fields)...)
	}
	events := make([]string, 0, len(m.Events))
	for i, e := range m.Events {
		declare(e.Name, fmt.Sprintf("events[%d].name", i))
		events = append(events, e.Name)
		errs = append(errs, checkFields(fmt.Sprintf("events[%d]", i), e.Fields)...)
	}

	commandNames := make(map[string]string)
	for i, c := range m.Commands {
		element := fmt.Sprintf("commands[%d]", i)
		if first, ok := commandNames[c.Name]; ok {
			errs = append(errs, generr.NewDuplicateName(element+".name", c.Name, first))
		} else {
			commandNames[c.Name] = element + ".name"
		}
	}

	isAggregate := func(name string) bool { _, ok := m.Aggregate(name); return ok }
	isValueObject := func(name string) bool { _, ok := m.ValueObject(name); return ok }

	ownedRefs := func(element string, refs []string) {
		for j, ref := range refs {
			if isValueObject(ref) {
				continue
			}
			e := generr.NewUnresolvedValueObject(fmt.Sprintf("%s.valueObjects[%d]", element, j), ref,
				strutil.FindSimilar(ref, valueObjects, nil))
			if isAggregate(ref) {
				e.WithSuggestion(fmt.Sprintf("%s is an aggregate; reference it by id instead of owning it", ref))
			}
			errs = append(errs, e)
		}
	}
	for i, a := range m.Aggregates {
		ownedRefs(fmt.Sprintf("aggregates[%d]", i), a.ValueObjects)
	}
	for i, v := range m.ValueObjects {
		ownedRefs(fmt.Sprintf("valueObjects[%d]", i), v.ValueObjects)
	}

	for i, c := range m.Commands {
		element := fmt.Sprintf("commands[%d]", i)
		if !isAggregate(c.Aggregate) {
			errs = append(errs, generr.NewUnresolvedAggregate(element+".aggregate", c.Aggregate,
				strutil.FindSimilar(c.Aggregate, aggregates, nil)))
		}
		ev, ok := m.Event(c.Emits)
		if !ok {
			errs = append(errs, generr.NewUnresolvedEvent(element+".emits", c.Emits,
				strutil.FindSimilar(c.Emits, events, nil)))
			continue
		}
		// A command-triggered event originates from an aggregate of this model
		if !isAggregate(ev.Aggregate) {
			errs = append(errs, generr.NewUnresolvedAggregate(
				fmt.Sprintf("events[%d].aggregate", indexOfEvent(m, ev.Name)), ev.Aggregate,
				strutil.FindSimilar(ev.Aggregate, aggregates, nil)))
		}
	}

	for i, p := range m.Policies {
		element := fmt.Sprintf("policies[%d]", i)
		if _, ok := m.Event(p.On); !ok {
			errs = append(errs, generr.NewUnresolvedEvent(element+".on", p.On,
				strutil.FindSimilar(p.On, events, nil)))
		}
		if !isAggregate(p.Aggregate) {
			errs = append(errs, generr.NewUnresolvedAggregate(element+".aggregate", p.Aggregate,
				strutil.FindSimilar(p.Aggregate, aggregates, nil)))
		}
		seen := make(map[string]bool)
		for j, emitted := range p.Emits {
			if seen[emitted] {
				errs = append(errs, generr.NewDuplicateName(fmt.Sprintf("%s.emits[%d]", element, j), emitted, element+".emits"))
			}
			seen[emitted] = true
		}
	}

	return errs
}

func checkFields(element string, fs []Field) generr.List {
	var errs generr.List
	seen := make(map[string]int)
	for i, f := range fs {
		if first, ok := seen[f.Name]; ok {
			errs = append(errs, generr.NewDuplicateName(
				fmt.Sprintf("%s.fields[%d].name", element, i), f.Name,
				fmt.Sprintf("%s.fields[%d]", element, first)))
			continue
		}
		seen[f.Name] = i
	}
	return errs
}

func indexOfEvent(m *Model, name string) int {
	for i, e := range m.Events {
		if e.Name == name {
			return i
		}
	}
	return -1
}
