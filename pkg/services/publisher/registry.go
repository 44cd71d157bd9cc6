package publisher

import (
	"context"
	"fmt"
	"sync"
)

// Well-known sink names.
const (
	SinkAMQP   = "amqp"
	SinkStdout = "stdout"
)

// Factory is a function type that creates a Sink.
type Factory func(ctx context.Context) (Sink, error)

// Registry manages event sink factories
type Registry interface {
	// Register adds a new sink factory under a name
	Register(name string, factory Factory) error
	// Create instantiates the sink registered under name
	Create(ctx context.Context, name string) (Sink, error)
	// ListSinks returns a list of registered sink names
	ListSinks() []string
}

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new sink registry
func NewRegistry() Registry {
	return &registry{
		factories: make(map[string]Factory),
	}
}

func (r *registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("sink name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("sink %q is already registered", name)
	}

	r.factories[name] = factory
	return nil
}

func (r *registry) Create(ctx context.Context, name string) (Sink, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("sink %q is not registered", name)
	}

	return factory(ctx)
}

func (r *registry) ListSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]string, 0, len(r.factories))
	for name := range r.factories {
		sinks = append(sinks, name)
	}
	return sinks
}
