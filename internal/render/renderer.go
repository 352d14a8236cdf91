// Package render maps plan steps to artifacts by executing templates against
// bindings drawn only from the metadata model.
package render

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	generr "github.com/conduit-lang/svcgen/internal/errors"
	"github.com/conduit-lang/svcgen/internal/metadata"
	"github.com/conduit-lang/svcgen/internal/plan"
	"github.com/conduit-lang/svcgen/internal/templates"
)

var missingKeyPattern = regexp.MustCompile(`at <([^>]*)>: map has no entry for key "([^"]*)"`)

// Renderer renders plan steps. It holds no per-call state, so the same
// (step, model) pair always renders the same bytes.
type Renderer struct {
	engine   *templates.Engine
	registry *templates.Registry
	logger   *zap.Logger
}

// New creates a renderer over a template registry
func New(registry *templates.Registry, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		engine:   templates.NewEngine(),
		registry: registry,
		logger:   logger,
	}
}

// Render produces the artifacts of one step
func (r *Renderer) Render(step plan.Step, m *metadata.Model) (ArtifactSet, error) {
	tmpl, ok := r.registry.Get(string(step.Kind))
	if !ok {
		return nil, generr.NewNoTemplate(step.ID, string(step.Kind))
	}

	data, err := bindingsFor(step, m)
	if err != nil {
		return nil, generr.NewUnboundPlaceholder(step.ID, tmpl.Kind, step.Ref).WithCause(err)
	}

	var out ArtifactSet
	for _, f := range tmpl.Files {
		if f.Condition != "" {
			include, err := r.engine.Evaluate(f.Name+" (condition)", f.Condition, data)
			if err != nil {
				return nil, renderError(step, f.Name+" (condition)", err)
			}
			if !include {
				continue
			}
		}

		target, err := r.execute(step, f.Name+" (path)", f.TargetPath, data)
		if err != nil {
			return nil, err
		}
		path, err := templates.CleanPath(strings.TrimSpace(target))
		if err != nil {
			return nil, generr.NewUnsafePath(step.ID, target).WithCause(err)
		}

		content, err := r.execute(step, f.Name, f.Content, data)
		if err != nil {
			return nil, err
		}

		a := Artifact{
			Path:     path,
			Content:  content,
			Policy:   f.Policy,
			Step:     step.ID,
			Template: f.Name,
		}
		if f.Policy == AppendRoute {
			key, err := r.execute(step, f.Name+" (route key)", f.RouteKey, data)
			if err != nil {
				return nil, err
			}
			a.RouteKey = strings.TrimSpace(key)
		}
		out = append(out, a)
	}

	r.logger.Debug("rendered step",
		zap.String("step", step.ID),
		zap.Int("artifacts", len(out)))
	return out, nil
}

// RenderPlan renders every step of a plan, concatenating fragments in plan
// order. The first failing step aborts the render.
func (r *Renderer) RenderPlan(p *plan.Plan, m *metadata.Model) (ArtifactSet, error) {
	var out ArtifactSet
	for _, step := range p.Steps {
		fragment, err := r.Render(step, m)
		if err != nil {
			return nil, err
		}
		out = append(out, fragment...)
	}
	return out, nil
}

// residues are markers of template text that was not fully rendered
var residues = []string{"<no value>", "{{"}

// execute runs one template text and maps failures to render errors. A
// residue that only bound metadata values contributed is not an error.
func (r *Renderer) execute(step plan.Step, name, text string, data map[string]interface{}) (string, error) {
	out, err := r.engine.Execute(name, text, data)
	if err != nil {
		return "", renderError(step, name, err)
	}

	if !containsResidue(out) {
		return out, nil
	}
	neutral, err := r.engine.Execute(name, text, neutralize(data))
	if err != nil {
		return "", renderError(step, name, err)
	}
	for _, residue := range residues {
		if strings.Contains(neutral, residue) {
			return "", generr.NewUnboundPlaceholder(step.ID, name, residue)
		}
	}
	return out, nil
}

func renderError(step plan.Step, name string, err error) error {
	if match := missingKeyPattern.FindStringSubmatch(err.Error()); match != nil {
		placeholder := match[1]
		if placeholder == "" {
			placeholder = match[2]
		}
		return generr.NewUnboundPlaceholder(step.ID, name, placeholder).WithCause(err)
	}
	return generr.NewTemplateSyntax(step.ID, name, err)
}

func containsResidue(s string) bool {
	for _, residue := range residues {
		if strings.Contains(s, residue) {
			return true
		}
	}
	return false
}

// neutralize copies bindings with residue markers removed from every string
func neutralize(v interface{}) interface{} {
	switch v := v.(type) {
	case string:
		for _, residue := range residues {
			v = strings.ReplaceAll(v, residue, "")
		}
		return v
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = neutralize(s).(string)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = neutralize(val)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(v))
		for i, m := range v {
			out[i] = neutralize(m).(map[string]interface{})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = neutralize(val)
		}
		return out
	default:
		return v
	}
}
