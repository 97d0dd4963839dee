package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the tools available to researchers. Tools registered as
// search-class additionally participate in normalized duplicate folding,
// since near-identical queries to a search backend waste a whole call.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	order       []string
	searchClass map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		tools:       make(map[string]Tool),
		searchClass: make(map[string]bool),
	}
}

// Register adds a tool. Registering the same name twice is a programming
// error and panics, matching how misconfigured capability maps are handled
// elsewhere at startup.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, ok := r.tools[name]; ok {
		panic(fmt.Sprintf("tool %q registered twice", name))
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

// RegisterSearch adds a search-class tool.
func (r *Registry) RegisterSearch(t Tool) {
	r.Register(t)
	r.mu.Lock()
	r.searchClass[t.Name()] = true
	r.mu.Unlock()
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// IsSearchClass reports whether a tool participates in normalized
// duplicate folding.
func (r *Registry) IsSearchClass(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.searchClass[name]
}

// Schemas returns the binding schemas of all registered tools in
// registration order.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schemas = append(schemas, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return schemas
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Describe renders a plain-text menu of the registered tools, used by
// prompts that present the tools to a model as text.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		t := r.tools[name]
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	}
	return sb.String()
}
