package modbus

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "modbus"
	metricsSubsystem = "registry"
)

// UnknownPluginLabel is the plugin label recorded for creation requests that
// name an id discovery never saw.
const UnknownPluginLabel = "unknown"

// registryMetrics are the counters one Registry reports to.
type registryMetrics struct {
	resolutions *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	creations   *prometheus.CounterVec
}

func newRegistryMetrics() *registryMetrics {
	return &registryMetrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "plugin_resolutions_total",
			Help:      "Number of plugin load attempts.",
		}, []string{"plugin", "result"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "factory_cache_hits_total",
			Help:      "Number of times a resolved factory was reused.",
		}, []string{"plugin"}),
		creations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "backend_creations_total",
			Help:      "Number of backend role creation requests.",
		}, []string{"plugin", "role", "result"}),
	}
}

func (m *registryMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.resolutions, m.cacheHits, m.creations}
}

var defaultMetrics = newRegistryMetrics()

var (
	// ResolutionsTotal counts plugin load attempts by outcome ("ok", "error").
	ResolutionsTotal = defaultMetrics.resolutions
	// CacheHitsTotal counts creation calls served by an already resolved factory.
	CacheHitsTotal = defaultMetrics.cacheHits
	// CreationsTotal counts CreateMaster/CreateSlave calls by role and outcome
	// ("ok", "unknown", "unresolved", "unsupported"). Unknown ids share the
	// UnknownPluginLabel series.
	CreationsTotal = defaultMetrics.creations
)

func init() {
	prometheus.MustRegister(defaultMetrics.collectors()...)
}
