// Package tools provides the tool registry the orchestrator consults when
// the model requests a function call mid-stream.
//
// Registration is static and process-wide: the full set is fixed at startup
// and the registry is immutable afterwards, so lookups are safe for
// concurrent use across turns without coordination.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound indicates the model requested a tool that is not registered.
var ErrNotFound = errors.New("tool not found")

// Handler executes a tool call with the arguments supplied by the model.
// Execution is synchronous: the orchestrator does not resume streaming until
// the handler returns.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Param describes one declared tool parameter.
type Param struct {
	Name        string
	Description string
	Required    bool
}

// Declaration is the schema advertised to the generation backend for one tool.
// All parameters are strings; the model supplies values in the call arguments.
type Declaration struct {
	Name        string
	Description string
	Params      []Param
}

// Tool pairs a declaration with its handler.
type Tool struct {
	Declaration Declaration
	Handler     Handler
}

// Registry maps tool names to handlers and their declared schemas.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools.
// Duplicate names are a programming error and panic at startup.
func NewRegistry(ts ...Tool) *Registry {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		if _, dup := m[t.Declaration.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate registration of %q", t.Declaration.Name))
		}
		m[t.Declaration.Name] = t
	}
	return &Registry{tools: m}
}

// Invoke looks up the named tool and runs it synchronously.
// Returns ErrNotFound (wrapped with the name) if the tool is unregistered.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	out, err := t.Handler(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %q: %w", name, err)
	}
	return out, nil
}

// Declarations returns the declared schemas of all registered tools,
// sorted by name for stable request construction.
func (r *Registry) Declarations() []Declaration {
	decls := make([]Declaration, 0, len(r.tools))
	for _, t := range r.tools {
		decls = append(decls, t.Declaration)
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}
