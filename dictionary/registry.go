package dictionary

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/internal/options"
)

// Resolver looks up a published dictionary.
//
// Version 0 asks for the newest version of id. Implementations return
// errs.ErrDictionaryNotFound when nothing matches and must be safe for
// concurrent use.
type Resolver interface {
	Resolve(id string, version uint64) (*Dictionary, error)
}

type registryKey struct {
	id      string
	version uint64
}

// Registry is an in-memory Resolver.
//
// It only accepts valid dictionaries and refuses to bind an id+version that
// is already registered to different contents. Registered dictionaries are
// copied, so later changes by the caller have no effect.
type Registry struct {
	mu     sync.RWMutex
	dicts  map[registryKey]*Dictionary
	latest map[string]uint64
	logger *slog.Logger
}

var _ Resolver = (*Registry)(nil)

// RegistryOption configures a Registry.
type RegistryOption = options.Option[*Registry]

// WithRegistryLogger sets the logger used for registration events.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return options.NoError(func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	})
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		dicts:  make(map[registryKey]*Dictionary),
		latest: make(map[string]uint64),
		logger: slog.Default(),
	}
	if err := options.Apply(r, opts...); err != nil {
		return nil, err
	}

	return r, nil
}

// Register validates d and makes it resolvable.
//
// Registering identical contents twice is a no-op.
func (r *Registry) Register(d *Dictionary) error {
	aliases, err := d.validate()
	if err != nil {
		return err
	}

	key := registryKey{id: d.ID, version: d.Version}
	fp := d.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.dicts[key]; ok {
		if existing.Fingerprint() == fp {
			return nil
		}

		return fmt.Errorf("%w: %s already registered with different contents", errs.ErrDictionaryIntegrity, d)
	}

	r.dicts[key] = d.Clone()
	if d.Version > r.latest[d.ID] {
		r.latest[d.ID] = d.Version
	}
	r.logger.Info("dictionary registered", "dict_id", d.ID, "dict_version", d.Version, "entries", d.Len())
	if len(aliases) > 0 {
		r.logger.Debug("dictionary has alias entries", "dict_id", d.ID, "dict_version", d.Version, "aliases", aliases)
	}

	return nil
}

// Resolve returns the dictionary for id and version, or the newest one when version is 0.
//
// The result is a copy; changing it does not affect the registry.
func (r *Registry) Resolve(id string, version uint64) (*Dictionary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == 0 {
		version = r.latest[id]
	}
	d, ok := r.dicts[registryKey{id: id, version: version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", errs.ErrDictionaryNotFound, id, version)
	}

	return d.Clone(), nil
}

// Latest returns the newest registered version of id.
func (r *Registry) Latest(id string) (*Dictionary, error) {
	return r.Resolve(id, 0)
}

// Versions returns the registered versions of id in ascending order.
func (r *Registry) Versions(id string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var versions []uint64
	for key := range r.dicts {
		if key.id == id {
			versions = append(versions, key.version)
		}
	}
	slices.Sort(versions)

	return versions
}

// Len returns the number of registered dictionaries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.dicts)
}
