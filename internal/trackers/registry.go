package trackers

import (
	"sort"
	"sync"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// Factory builds a tracker from its configuration section. name is the
// user-chosen key from the trackers map, cfg the decoded section.
type Factory func(name string, cfg config.TrackerConfig) (Tracker, error)

// Registry maps tracker type tags to factories. Adapter packages register
// themselves at init time.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var globalRegistry = &Registry{
	factories: make(map[string]Factory),
}

// Register adds a factory to the global registry. Called from adapter
// package init() functions; the type tag must match the config discriminator
// ("github", "gitlab", ...).
func Register(typeTag string, factory Factory) {
	globalRegistry.Register(typeTag, factory)
}

// New builds a tracker for the given configuration section using the global
// registry.
func New(name string, cfg config.TrackerConfig) (Tracker, error) {
	return globalRegistry.New(name, cfg)
}

// Types returns the registered type tags.
func Types() []string {
	return globalRegistry.Types()
}

// Register adds a factory to this registry.
func (r *Registry) Register(typeTag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeTag] = factory
}

// New builds a tracker for the given configuration section.
func (r *Registry) New(name string, cfg config.TrackerConfig) (Tracker, error) {
	r.mu.RLock()
	factory := r.factories[cfg.TrackerType()]
	r.mu.RUnlock()
	if factory == nil {
		return nil, syncerr.New(syncerr.KindConfiguration,
			"no adapter registered for tracker type %q (available: %v)", cfg.TrackerType(), r.Types())
	}
	return factory(name, cfg)
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
