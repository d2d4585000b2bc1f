// Package modbus keeps the catalog of Modbus backend plugins (TCP, RTU,
// RTU over TCP, ...) and builds Master and Slave role objects from them.
//
// Plugins are discovered once, when a Registry is built. A plugin's Factory
// is loaded lazily on the first CreateMaster or CreateSlave call for its id
// and reused afterwards. Every role object handed out belongs to the caller.
//
//	import _ "github.com/hootrhino/gomodbus-backends/backends/all"
//
//	master := modbus.Instance().CreateMaster("tcp")
//	if master == nil {
//		// backend unavailable
//	}
package modbus

import (
	"io"
	"maps"
	"slices"
	"sync"
)

// Registry maps plugin identifiers to their (lazily resolved) factories.
// It is safe for concurrent use.
type Registry struct {
	cache   *factoryCache
	logger  io.Writer
	metrics *registryMetrics
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Instance returns the process-wide Registry, discovering DefaultLoader's
// plugins on the first call.
func Instance() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = New(DefaultLoader())
	})
	return defaultRegistry
}

// New discovers the plugins offered by loader and returns a Registry over
// them. A nil loader yields an empty registry.
func New(loader Loader, opts ...Option) *Registry {
	o := Options{Logger: io.Discard}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = io.Discard
	}
	metrics := defaultMetrics
	if o.Registerer != nil {
		metrics = newRegistryMetrics()
		o.Registerer.MustRegister(metrics.collectors()...)
	}
	records, pinned := discover(loader, o.Logger)
	logf(o.Logger, LevelInfo, "modbus: registry ready with %d plugin(s)", len(records))
	return &Registry{
		cache:   newFactoryCache(pinned, records, o.RetryFailed, o.Logger, metrics),
		logger:  o.Logger,
		metrics: metrics,
	}
}

// Plugins returns the identifiers of all discovered plugins, sorted.
func (r *Registry) Plugins() []string {
	keys := r.cache.keys()
	slices.Sort(keys)
	return keys
}

// MetaData returns a copy of the metadata plugin id declared.
func (r *Registry) MetaData(id string) (MetaData, bool) {
	rec, ok := r.cache.lookup(id)
	if !ok {
		return nil, false
	}
	return maps.Clone(rec.MetaData), true
}

// LastError reports why id has no factory: ErrUnknownPlugin for ids never
// discovered, a *ResolveError after a failed load, nil otherwise.
func (r *Registry) LastError(id string) error {
	rec, ok := r.cache.lookup(id)
	if !ok {
		return ErrUnknownPlugin
	}
	return rec.err
}

// CreateMaster builds a Master from plugin id. It returns nil when id is
// unknown, the plugin cannot be loaded, or the backend has no master role.
// The caller owns the returned Master.
func (r *Registry) CreateMaster(id string) Master {
	factory := r.factory(id, "master")
	if factory == nil {
		return nil
	}
	m := factory.CreateMaster()
	if m == nil {
		r.metrics.creations.WithLabelValues(id, "master", "unsupported").Inc()
		logf(r.logger, LevelDebug, "modbus: plugin %q has no master role", id)
		return nil
	}
	r.metrics.creations.WithLabelValues(id, "master", "ok").Inc()
	return m
}

// CreateSlave builds a Slave from plugin id, see CreateMaster.
func (r *Registry) CreateSlave(id string) Slave {
	factory := r.factory(id, "slave")
	if factory == nil {
		return nil
	}
	s := factory.CreateSlave()
	if s == nil {
		r.metrics.creations.WithLabelValues(id, "slave", "unsupported").Inc()
		logf(r.logger, LevelDebug, "modbus: plugin %q has no slave role", id)
		return nil
	}
	r.metrics.creations.WithLabelValues(id, "slave", "ok").Inc()
	return s
}

func (r *Registry) factory(id, role string) Factory {
	if _, ok := r.cache.lookup(id); !ok {
		r.metrics.creations.WithLabelValues(UnknownPluginLabel, role, "unknown").Inc()
		logf(r.logger, LevelDebug, "modbus: no plugin %q", id)
		return nil
	}
	rec, _ := r.cache.resolve(id)
	if rec.Factory == nil {
		r.metrics.creations.WithLabelValues(id, role, "unresolved").Inc()
		return nil
	}
	return rec.Factory
}
