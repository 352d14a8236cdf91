package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Registry maps step kinds to their templates
type Registry struct {
	templates map[string]*Template
	mutex     sync.RWMutex
}

// NewRegistry creates an empty template registry
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]*Template),
	}
}

// NewBuiltinRegistry creates a registry holding the built-in Spring Boot
// template set
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, tmpl := range SpringBootTemplates() {
		if err := r.Register(tmpl); err != nil {
			// Built-in templates are fixed at compile time
			panic(fmt.Sprintf("built-in template %s: %v", tmpl.Kind, err))
		}
	}
	return r
}

// Register registers a template for its kind
func (r *Registry) Register(tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.templates[tmpl.Kind]; exists {
		return fmt.Errorf("template for %s already registered", tmpl.Kind)
	}

	r.templates[tmpl.Kind] = tmpl
	return nil
}

// Get retrieves the template for a step kind
func (r *Registry) Get(kind string) (*Template, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tmpl, exists := r.templates[kind]
	return tmpl, exists
}

// Kinds returns the registered kinds, sorted
func (r *Registry) Kinds() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.sortedKindsLocked()
}

// Override replaces template file content with files found under dir. A
// template file named "entity/Entity.java" is overridden by
// <dir>/entity/Entity.java. It returns the names of the overridden files.
func (r *Registry) Override(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template override directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template override path %s is not a directory", dir)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	var overridden []string
	for _, kind := range r.sortedKindsLocked() {
		tmpl := r.templates[kind]
		for _, f := range tmpl.Files {
			data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f.Name)))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return overridden, fmt.Errorf("failed to read override for %s: %w", f.Name, err)
			}
			if len(data) == 0 {
				return overridden, fmt.Errorf("override for %s is empty", f.Name)
			}
			f.Content = string(data)
			overridden = append(overridden, f.Name)
		}
	}
	return overridden, nil
}

func (r *Registry) sortedKindsLocked() []string {
	kinds := make([]string, 0, len(r.templates))
	for kind := range r.templates {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
