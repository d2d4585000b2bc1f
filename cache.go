package modbus

import (
	"io"
	"sync"

	"golang.org/x/sync/singleflight"
)

// factoryCache turns discovered records into resolved ones. Each id is loaded
// at most once; concurrent resolutions of the same id share one flight.
type factoryCache struct {
	mu      sync.RWMutex
	records map[string]*PluginRecord

	loader      Loader
	sf          singleflight.Group
	retryFailed bool
	logger      io.Writer
	metrics     *registryMetrics
}

func newFactoryCache(loader Loader, records map[string]*PluginRecord, retryFailed bool, logger io.Writer, metrics *registryMetrics) *factoryCache {
	return &factoryCache{
		records:     records,
		loader:      loader,
		retryFailed: retryFailed,
		logger:      logger,
		metrics:     metrics,
	}
}

// lookup returns a snapshot of the record for id.
func (c *factoryCache) lookup(id string) (PluginRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return PluginRecord{}, false
	}
	return *rec, true
}

func (c *factoryCache) settled(rec PluginRecord) bool {
	return rec.Factory != nil || (rec.attempted && !c.retryFailed)
}

// resolve returns the record for id, loading its factory on first use. A
// failed load leaves Factory nil; no error is surfaced here.
func (c *factoryCache) resolve(id string) (PluginRecord, bool) {
	rec, ok := c.lookup(id)
	if !ok {
		return PluginRecord{}, false
	}
	if rec.Factory != nil {
		c.metrics.cacheHits.WithLabelValues(id).Inc()
		return rec, true
	}
	if c.settled(rec) {
		return rec, true
	}

	v, _, shared := c.sf.Do(id, func() (any, error) {
		// Another flight may have finished between lookup and Do.
		cur, _ := c.lookup(id)
		if c.settled(cur) {
			return cur, nil
		}
		return c.load(cur), nil
	})
	if shared {
		logf(c.logger, LevelDebug, "modbus: plugin %q resolution shared with a concurrent caller", id)
	}
	return v.(PluginRecord), true
}

func (c *factoryCache) load(rec PluginRecord) PluginRecord {
	logf(c.logger, LevelDebug, "modbus: loading plugin %q (index %d)", rec.ID, rec.LoadIndex)
	factory, err := c.loader.Instance(rec.LoadIndex)
	if err == nil && factory == nil {
		err = ErrNoFactory
	}
	if setter, ok := factory.(LoggerSetter); ok && err == nil {
		setter.SetLogger(c.logger)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	stored := c.records[rec.ID]
	stored.attempted = true
	if err != nil {
		stored.err = &ResolveError{ID: rec.ID, Err: err}
		c.metrics.resolutions.WithLabelValues(rec.ID, "error").Inc()
		logf(c.logger, LevelWarning, "modbus: %v", stored.err)
	} else {
		stored.Factory = factory
		stored.err = nil
		c.metrics.resolutions.WithLabelValues(rec.ID, "ok").Inc()
		logf(c.logger, LevelDebug, "modbus: plugin %q resolved", rec.ID)
	}
	return *stored
}

func (c *factoryCache) keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.records))
	for id := range c.records {
		out = append(out, id)
	}
	return out
}
