// Package registry keeps the ordered set of configured lights shared by the
// protocol server and the synchronizer.
package registry

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/dokzlo13/hueboblightd/internal/light"
)

// Registry is an ordered collection of lights keyed by bridge endpoint and
// light id. Mutations are safe while another goroutine iterates a snapshot.
type Registry struct {
	mu     sync.RWMutex
	lights []*light.Light
	index  map[light.Key]*light.Light
}

func New() *Registry {
	return &Registry{index: make(map[light.Key]*light.Light)}
}

// Add registers a light at the end of the order
func (r *Registry) Add(l *light.Light) error {
	key := l.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[key]; exists {
		return fmt.Errorf("%s: %w", key, ErrDuplicateLight)
	}
	r.index[key] = l
	r.lights = append(r.lights, l)
	return nil
}

// Remove deregisters a light
func (r *Registry) Remove(key light.Key) (*light.Light, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.index[key]
	if !ok {
		return nil, false
	}
	delete(r.index, key)
	r.lights = lo.Reject(r.lights, func(item *light.Light, _ int) bool {
		return item == l
	})
	return l, true
}

// Get returns the light registered under key
func (r *Registry) Get(key light.Key) (*light.Light, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.index[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLightNotFound)
	}
	return l, nil
}

// Snapshot returns the lights in registration order. The returned slice is
// a copy; later changes to the registry do not affect it.
func (r *Registry) Snapshot() []*light.Light {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*light.Light, len(r.lights))
	copy(out, r.lights)
	return out
}

// Valid returns a snapshot of the lights that passed validation
func (r *Registry) Valid() []*light.Light {
	return lo.Filter(r.Snapshot(), func(l *light.Light, _ int) bool {
		return l.InUse()
	})
}

// Find returns the first light with the given id in registration order, or
// nil. Ids are only unique per bridge, the protocol addresses lights by id
// alone.
func (r *Registry) Find(id string) *light.Light {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := lo.Find(r.lights, func(l *light.Light) bool {
		return l.ID() == id
	})
	if !ok {
		return nil
	}
	return l
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lights)
}

// Clear removes every light and returns them in registration order
func (r *Registry) Clear() []*light.Light {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.lights
	r.lights = nil
	r.index = make(map[light.Key]*light.Light)
	return out
}
