package calliope

import (
	"time"

	"github.com/chaz8081/calliope-connect/internal/ble"
)

// Options configures a Discovery.
type Options struct {
	ScanTimeout       time.Duration // scan window; discovering/discovered -> discoveredAll
	ConnectTimeout    time.Duration // bound on a single connect attempt
	EvaluateTimeout   time.Duration // bound on service discovery + status query
	RadioPollInterval time.Duration // Enable retry interval while the radio is off

	// RadioWatcher, if set, replaces polling while waiting for the radio.
	RadioWatcher ble.RadioWatcher
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:       20 * time.Second,
		ConnectTimeout:    10 * time.Second,
		EvaluateTimeout:   5 * time.Second,
		RadioPollInterval: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = def.ScanTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.EvaluateTimeout <= 0 {
		o.EvaluateTimeout = def.EvaluateTimeout
	}
	if o.RadioPollInterval <= 0 {
		o.RadioPollInterval = def.RadioPollInterval
	}
	return o
}
