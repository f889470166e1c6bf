// Package sources maps each monitor.Source to the collaborator that fetches
// and filters its content.
package sources

import (
	"slices"
	"sync"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// Registry is a concurrency-safe source to Fetcher table.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[monitor.Source]monitor.Fetcher
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[monitor.Source]monitor.Fetcher)}
}

// Register binds source to f, replacing any previous binding.
func (r *Registry) Register(source monitor.Source, f monitor.Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[source] = f
}

// Fetcher returns the collaborator for source.
func (r *Registry) Fetcher(source monitor.Source) (monitor.Fetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[source]
	return f, ok
}

// Sources lists registered sources in sorted order.
func (r *Registry) Sources() []monitor.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]monitor.Source, 0, len(r.fetchers))
	for s := range r.fetchers {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
