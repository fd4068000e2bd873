// Package registry maps agent type tags to the factories that adapt instances into servable handlers.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/xiaot623/gogo/acp/internal/agent"
	"github.com/xiaot623/gogo/acp/internal/domain"
)

// RunFunc executes one run of a registered agent.
type RunFunc func(ctx context.Context, input domain.Input, emit agent.Emitter) (*domain.RunOutput, error)

// Handler is a registered agent as the server sees it.
type Handler struct {
	Descriptor domain.AgentDescriptor
	Run        RunFunc
}

// Metadata is the caller-supplied registration data handed to a factory.
type Metadata struct {
	Name     string
	Tags     []string
	Metadata map[string]any
}

// Factory adapts an agent instance into a Handler.
type Factory func(instance any, meta Metadata) (*Handler, error)

// MissingFactoryError is returned when no factory is known for an instance type.
type MissingFactoryError struct {
	Type string
}

func (e *MissingFactoryError) Error() string {
	return fmt.Sprintf("no factory registered for agent type %s", e.Type)
}

// Registry stores factories keyed by agent type tag.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// DefaultRegistry is the shared registry used by servers that are not given one.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// TypeTag returns the type tag of an instance. Values implementing agent.TypeTagger
// choose their own tag, everything else is tagged by its Go type.
func TypeTag(instance any) string {
	if t, ok := instance.(agent.TypeTagger); ok {
		if tag := t.AgentType(); tag != "" {
			return tag
		}
	}
	return reflect.TypeOf(instance).String()
}

// RegisterFactory associates a factory with a type tag, replacing any earlier one.
func (r *Registry) RegisterFactory(agentType string, factory Factory) error {
	if agentType == "" {
		return fmt.Errorf("agent type is required")
	}
	if factory == nil {
		return fmt.Errorf("factory is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[agentType] = factory
	return nil
}

// Lookup returns the factory registered for a type tag.
func (r *Registry) Lookup(agentType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[agentType]
	return f, ok
}

// Build adapts instance through its factory. Instances of built-in agent types
// without an explicit factory use the default adapter.
func (r *Registry) Build(instance any, meta Metadata) (*Handler, error) {
	if instance == nil {
		return nil, fmt.Errorf("agent instance is required")
	}
	tag := TypeTag(instance)
	factory, ok := r.Lookup(tag)
	if !ok {
		if _, builtin := instance.(agent.Agent); !builtin {
			return nil, &MissingFactoryError{Type: tag}
		}
		factory = DefaultFactory
	}

	h, err := factory(instance, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent of type %s: %w", tag, err)
	}
	if h == nil || h.Run == nil {
		return nil, fmt.Errorf("factory for agent type %s returned no handler", tag)
	}
	if h.Descriptor.Type == "" {
		h.Descriptor.Type = tag
	}
	return h, nil
}

// DefaultFactory adapts any agent.Agent.
func DefaultFactory(instance any, meta Metadata) (*Handler, error) {
	a, ok := instance.(agent.Agent)
	if !ok {
		return nil, fmt.Errorf("%T does not implement agent.Agent", instance)
	}
	name := meta.Name
	if name == "" {
		name = a.Name()
	}
	desc := domain.AgentDescriptor{
		Name:        name,
		Description: a.Description(),
		Tags:        domain.NormalizeTags(meta.Tags),
		Metadata:    meta.Metadata,
		Type:        TypeTag(instance),
	}
	return &Handler{
		Descriptor: desc.Clone(),
		Run:        a.Run,
	}, nil
}

// RegisterFactory adds a factory to the default registry.
func RegisterFactory(agentType string, factory Factory) error {
	return DefaultRegistry.RegisterFactory(agentType, factory)
}

// MustRegisterFactory adds a factory to the default registry or panics.
func MustRegisterFactory(agentType string, factory Factory) {
	if err := RegisterFactory(agentType, factory); err != nil {
		panic(err)
	}
}
