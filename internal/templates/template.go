// Package templates holds the template engine and the registry of artifact
// templates keyed by plan step kind.
package templates

import (
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	strutil "github.com/conduit-lang/svcgen/internal/util/strings"
)

// Policy governs how a rendered artifact combines with an existing file
type Policy string

const (
	PolicyCreateOnly  Policy = "create-only"
	PolicyOverwrite   Policy = "overwrite"
	PolicyAppendRoute Policy = "append-route"
)

// Valid reports whether p is a known merge policy
func (p Policy) Valid() bool {
	switch p {
	case PolicyCreateOnly, PolicyOverwrite, PolicyAppendRoute:
		return true
	}
	return false
}

// Template is the set of files one step kind produces
type Template struct {
	Kind        string
	Description string
	Files       []*TemplateFile
}

// TemplateFile is one artifact of a template. TargetPath and Content are both
// template text. Condition, when set, must render to "true" for the file to
// be produced.
type TemplateFile struct {
	Name       string
	TargetPath string
	Content    string
	Policy     Policy
	Condition  string
	// RouteKey renders the dedup key of an append-route entry
	RouteKey string
}

// Validate validates a template structure
func (t *Template) Validate() error {
	if t.Kind == "" {
		return fmt.Errorf("template kind is required")
	}
	if len(t.Files) == 0 {
		return fmt.Errorf("template %s must have at least one file", t.Kind)
	}

	names := make(map[string]bool)
	for _, f := range t.Files {
		if f.Name == "" {
			return fmt.Errorf("file name is required in template %s", t.Kind)
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate file name %s in template %s", f.Name, t.Kind)
		}
		names[f.Name] = true

		if f.TargetPath == "" {
			return fmt.Errorf("file target path is required for %s", f.Name)
		}
		if f.Content == "" {
			return fmt.Errorf("file content is required for %s", f.Name)
		}
		if !f.Policy.Valid() {
			return fmt.Errorf("file %s has unknown policy %q", f.Name, f.Policy)
		}
		if f.Policy == PolicyAppendRoute && f.RouteKey == "" {
			return fmt.Errorf("append-route file %s needs a route key", f.Name)
		}
	}
	return nil
}

// Engine renders template text against binding maps. Execution uses
// missingkey=error, so a placeholder without a binding is an error rather
// than "<no value>".
type Engine struct {
	funcs template.FuncMap
}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{
		funcs: template.FuncMap{
			"upper":    strings.ToUpper,
			"lower":    strings.ToLower,
			"camel":    strutil.ToCamelCase,
			"pascal":   strutil.ToPascalCase,
			"kebab":    strutil.ToKebabCase,
			"snake":    strutil.ToSnakeCase,
			"plural":   strutil.Pluralize,
			"javaType": JavaType,
			"imports":  JavaImports,
			"importBlock": func(fields []map[string]interface{}) string {
				imports := JavaImports(fields)
				if len(imports) == 0 {
					return ""
				}
				var b strings.Builder
				for _, imp := range imports {
					b.WriteString("import " + imp + ";\n")
				}
				b.WriteString("\n")
				return b.String()
			},
			"pathOf": func(pkg string) string { return strings.ReplaceAll(pkg, ".", "/") },
			"hasKey": func(m map[string]interface{}, key string) bool {
				_, ok := m[key]
				return ok
			},
			"nulls": func(fields []map[string]interface{}) string {
				out := make([]string, len(fields))
				for i := range fields {
					out[i] = "null"
				}
				return strings.Join(out, ", ")
			},
		},
	}
}

// Parse parses template text under a name
func (e *Engine) Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(e.funcs).Option("missingkey=error").Parse(text)
}

// Execute parses and executes template text against data
func (e *Engine) Execute(name, text string, data interface{}) (string, error) {
	tmpl, err := e.Parse(name, text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Evaluate renders a condition and reports whether it produced "true"
func (e *Engine) Evaluate(name, condition string, data interface{}) (bool, error) {
	result, err := e.Execute(name, condition, data)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(result) == "true", nil
}

// CleanPath normalizes a rendered relative path and rejects absolute paths and
// paths that climb out of the output tree. The result uses forward slashes.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	slashed := filepath.ToSlash(p)
	if path.IsAbs(slashed) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%s attempts to write outside the output tree", p)
	}
	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%s attempts to write outside the output tree", p)
	}
	return clean, nil
}

// SafeJoin joins a relative artifact path onto root and ensures the result
// stays within root
func SafeJoin(root, rel string) (string, error) {
	clean, err := CleanPath(rel)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(root, filepath.FromSlash(clean))
	cleanRoot := filepath.Clean(root) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(fullPath)+string(filepath.Separator), cleanRoot) {
		return "", fmt.Errorf("%s attempts to write outside the output tree", rel)
	}
	return fullPath, nil
}

var javaTypes = map[string]string{
	"string":     "String",
	"text":       "String",
	"int":        "Integer",
	"integer":    "Integer",
	"long":       "Long",
	"double":     "Double",
	"float":      "Float",
	"bool":       "Boolean",
	"boolean":    "Boolean",
	"decimal":    "BigDecimal",
	"bigdecimal": "BigDecimal",
	"uuid":       "UUID",
	"date":       "LocalDate",
	"localdate":  "LocalDate",
	"datetime":   "LocalDateTime",
	"timestamp":  "Instant",
	"instant":    "Instant",
}

var javaTypeImports = map[string]string{
	"BigDecimal":    "java.math.BigDecimal",
	"UUID":          "java.util.UUID",
	"LocalDate":     "java.time.LocalDate",
	"LocalDateTime": "java.time.LocalDateTime",
	"Instant":       "java.time.Instant",
}

// JavaType maps a metadata field type to a Java type. Unknown types are taken
// to be Java type names already and pass through unchanged.
func JavaType(t string) string {
	if mapped, ok := javaTypes[strings.ToLower(t)]; ok {
		return mapped
	}
	return t
}

// JavaImports returns the sorted imports the given fields need
func JavaImports(fields []map[string]interface{}) []string {
	seen := make(map[string]bool)
	for _, f := range fields {
		t, _ := f["Type"].(string)
		if imp, ok := javaTypeImports[JavaType(t)]; ok {
			seen[imp] = true
		}
	}

	out := make([]string, 0, len(seen))
	for imp := range seen {
		out = append(out, imp)
	}
	sort.Strings(out)
	return out
}
