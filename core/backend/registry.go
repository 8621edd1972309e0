package backend

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/siherrmann/citegraph/core/pipeline"
	"github.com/siherrmann/citegraph/model"
)

// NERFactory creates an entity extraction backend.
type NERFactory func(config model.BackendConfig) (pipeline.EntityExtractor, error)

// EmbedderFactory creates an embedding backend.
type EmbedderFactory func(config model.BackendConfig) (pipeline.Embedder, error)

// GeneratorFactory creates a generation backend.
type GeneratorFactory func(config model.BackendConfig) (Generator, error)

// Registry maps backend names to factories. Names are case insensitive.
type Registry struct {
	mu         sync.RWMutex
	ner        map[string]NERFactory
	embedders  map[string]EmbedderFactory
	generators map[string]GeneratorFactory
}

// NewRegistry creates a registry with the in-process backends: rule, prose
// and hugot NER, and hash and hugot embedders. Remote providers register
// themselves through their package's Register function.
func NewRegistry() *Registry {
	r := &Registry{
		ner:        make(map[string]NERFactory),
		embedders:  make(map[string]EmbedderFactory),
		generators: make(map[string]GeneratorFactory),
	}

	r.RegisterNER("rule", func(model.BackendConfig) (pipeline.EntityExtractor, error) {
		return pipeline.NewRuleExtractor(nil), nil
	})
	r.RegisterNER("prose", func(model.BackendConfig) (pipeline.EntityExtractor, error) {
		return pipeline.ProseExtractor(), nil
	})
	r.RegisterNER("hugot", func(config model.BackendConfig) (pipeline.EntityExtractor, error) {
		return pipeline.HugotExtractor(config.NERModel)
	})

	r.RegisterEmbedder("hash", func(config model.BackendConfig) (pipeline.Embedder, error) {
		return pipeline.NewHashEmbedder(config.Dimensions), nil
	})
	r.RegisterEmbedder("hugot", func(config model.BackendConfig) (pipeline.Embedder, error) {
		return pipeline.NewHugotEmbedder(config.EmbedModel)
	})
	return r
}

func (r *Registry) RegisterNER(name string, factory NERFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ner[strings.ToLower(name)] = factory
}

func (r *Registry) RegisterEmbedder(name string, factory EmbedderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[strings.ToLower(name)] = factory
}

func (r *Registry) RegisterGenerator(name string, factory GeneratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[strings.ToLower(name)] = factory
}

// NER resolves an entity extraction backend.
func (r *Registry) NER(name string, config model.BackendConfig) (pipeline.EntityExtractor, error) {
	r.mu.RLock()
	factory, ok := r.ner[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown("NER", name, keysOf(&r.mu, r.ner))
	}
	return factory(config)
}

// Embedder resolves an embedding backend, rate limited by config.RateLimit.
func (r *Registry) Embedder(name string, config model.BackendConfig) (pipeline.Embedder, error) {
	r.mu.RLock()
	factory, ok := r.embedders[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown("embedding", name, keysOf(&r.mu, r.embedders))
	}
	embedder, err := factory(config)
	if err != nil {
		return nil, err
	}
	return LimitEmbedder(name, embedder, config.RateLimit), nil
}

// Generator resolves a generation backend, rate limited by config.RateLimit.
func (r *Registry) Generator(name string, config model.BackendConfig) (Generator, error) {
	r.mu.RLock()
	factory, ok := r.generators[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown("generation", name, keysOf(&r.mu, r.generators))
	}
	generator, err := factory(config)
	if err != nil {
		return nil, err
	}
	return LimitGenerator(name, generator, config.RateLimit), nil
}

// RoutedGenerator resolves every backend the configured routes name and
// returns a generator dispatching between them.
func (r *Registry) RoutedGenerator(config model.BackendConfig) (Generator, error) {
	router := NewRouter(config.Generator, config.Routes...)
	generators := make(map[string]Generator)
	for _, name := range router.Backends() {
		g, err := r.Generator(name, config)
		if err != nil {
			return nil, err
		}
		generators[name] = g
	}
	return NewRoutedGenerator(router, generators), nil
}

func keysOf[T any](mu *sync.RWMutex, factories map[string]T) []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func unknown(kind, name string, names []string) error {
	return fmt.Errorf("unknown %s backend %q (registered: %s)", kind, name, strings.Join(names, ", "))
}
