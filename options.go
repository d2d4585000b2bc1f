package modbus

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configure a Registry.
type Options struct {
	// Logger receives leveled lines ("[DEBUG] ...", "[WARNING] ..."); wrap it
	// in a SimpleLogger to filter by level. Defaults to io.Discard. Factories
	// implementing LoggerSetter receive it too.
	Logger io.Writer
	// RetryFailed makes a failed resolution run again on the next creation
	// call instead of being remembered for the life of the registry.
	RetryFailed bool
	// Registerer receives a private set of registry counters. When nil the
	// registry reports to the package counters on the default registerer.
	Registerer prometheus.Registerer
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the writer the registry logs discovery and resolution to.
func WithLogger(w io.Writer) Option {
	return func(o *Options) {
		o.Logger = w
	}
}

// WithRetryFailed enables or disables retrying failed plugin loads.
func WithRetryFailed(retry bool) Option {
	return func(o *Options) {
		o.RetryFailed = retry
	}
}

// WithRegisterer gives the registry its own counters, registered with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}
