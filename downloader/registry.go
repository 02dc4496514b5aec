package downloader

import (
	"log"
	"sort"
	"sync"

	"tankobon/models"
)

// SourceFactory builds an adapter from shared dependencies.
type SourceFactory func(deps SourceDeps) SourceAdapter

var (
	registeredSourcesMu sync.RWMutex
	registeredSources   = make(map[models.Source]SourceFactory)
)

// RegisterSource registers a source adapter factory.
// This should be called from init() by each site file.
func RegisterSource(src models.Source, factory SourceFactory) {
	registeredSourcesMu.Lock()
	defer registeredSourcesMu.Unlock()
	registeredSources[src] = factory
}

// Registry maps selectors to live adapters. It is built once per process
// and read concurrently afterwards.
type Registry struct {
	adapters map[models.Source]SourceAdapter
}

// NewRegistry instantiates every registered factory.
func NewRegistry(deps SourceDeps) *Registry {
	registeredSourcesMu.RLock()
	defer registeredSourcesMu.RUnlock()

	r := &Registry{adapters: make(map[models.Source]SourceAdapter, len(registeredSources))}
	for src, factory := range registeredSources {
		r.adapters[src] = factory(deps)
	}
	log.Printf("[Registry] %d source adapters ready", len(r.adapters))
	return r
}

// NewStaticRegistry wraps already-built adapters, mostly for tests.
func NewStaticRegistry(adapters ...SourceAdapter) *Registry {
	r := &Registry{adapters: make(map[models.Source]SourceAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Source()] = a
	}
	return r
}

// Adapter resolves a selector. A recognized selector without an adapter is
// as invalid as an unknown one.
func (r *Registry) Adapter(src models.Source) (SourceAdapter, error) {
	a, ok := r.adapters[src]
	if !ok {
		return nil, &InvalidSourceError{Source: src}
	}
	return a, nil
}

// Sources lists the selectors that have an adapter, in numeric order.
func (r *Registry) Sources() []models.Source {
	out := make([]models.Source, 0, len(r.adapters))
	for src := range r.adapters {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
