// Package provider selects an adapter implementation by name.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rhettg/agentloop"
	"github.com/rhettg/agentloop/provider/ollamachat"
	"github.com/rhettg/agentloop/provider/openaichat"
	"github.com/rhettg/agentloop/provider/openrouter"
)

// Factory builds a fresh adapter.
type Factory func() agentloop.Adapter

var (
	mu        sync.RWMutex
	factories = map[string]Factory{
		openaichat.Name: func() agentloop.Adapter { return openaichat.New() },
		openrouter.Name: func() agentloop.Adapter { return openrouter.New() },
		ollamachat.Name: func() agentloop.Adapter { return ollamachat.New() },
	}
)

// Register makes an adapter available under name, replacing any previous
// registration.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the adapter registered as name. Unknown names fail with
// agentloop.ErrUnknownAdapter.
func Get(name string) (agentloop.Adapter, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: adapter %q not found", agentloop.ErrUnknownAdapter, name)
	}
	return f(), nil
}

// NewAgent builds an Agent around the adapter registered as name.
func NewAgent(name string, cfg agentloop.Config, opts ...agentloop.Option) (*agentloop.Agent, error) {
	adapter, err := Get(name)
	if err != nil {
		return nil, err
	}
	return agentloop.New(adapter, cfg, opts...), nil
}
