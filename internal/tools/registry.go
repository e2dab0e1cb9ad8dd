// Package tools provides the built-in tools exposed to the model.
package tools

import (
	"github.com/opaldolphin/opaldolphin/internal/schema"
)

// Registry holds a set of named tools.
type Registry struct {
	tools map[string]schema.Tool
	order []string
}

// NewRegistry creates a Registry from the given tools, preserving order.
func NewRegistry(ts ...schema.Tool) *Registry {
	r := &Registry{tools: make(map[string]schema.Tool, len(ts))}
	for _, t := range ts {
		if _, dup := r.tools[t.Name()]; dup {
			continue
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) schema.Tool {
	return r.tools[name]
}

// Definitions renders the OpenAI function-calling tool definitions.
func (r *Registry) Definitions() []map[string]any {
	var out []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return out
}
