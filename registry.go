package agentloop

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Registry holds the tools available to an Agent in registration order.
//
// Names are unique: registering a second tool with an existing name fails
// with ErrDuplicateTool rather than shadowing the first.
type Registry struct {
	mu    sync.RWMutex
	tools []Tool
	index map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}

	if t.Execute == nil {
		return fmt.Errorf("tool %s: execute function is required", t.Name)
	}

	if t.Parameters != nil {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters)); err != nil {
			return fmt.Errorf("tool %s: invalid parameters schema: %w", t.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}

	r.index[t.Name] = len(r.tools)
	r.tools = append(r.tools, t)

	return nil
}

func (r *Registry) Find(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// Defs returns the advertised definitions in registration order.
func (r *Registry) Defs() []ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDef, len(r.tools))
	for i, t := range r.tools {
		defs[i] = t.ToolDef
	}
	return defs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
