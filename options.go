package hybridann

import (
	"log/slog"

	"github.com/nilshell/hybridann/metric"
)

type options struct {
	dimension        int
	memThreshold     int
	ramBudgetGB      float64
	maxDegree        int
	searchListSize   int
	beamWidth        int
	distanceMetric   metric.Type
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures New's construction behavior.
type Option func(*options)

// WithDimension fixes the vector dimension d up front. Required when
// constructing against a data file that does not exist yet; otherwise
// inferred from the existing base data file's header.
func WithDimension(d int) Option {
	return func(o *options) { o.dimension = d }
}

// WithBeamWidth sets the beam width passed to DiskIndex.BeamSearch.
func WithBeamWidth(w int) Option {
	return func(o *options) { o.beamWidth = w }
}

// WithMemThreshold sets the memory-index capacity threshold directly. If
// left at zero, the threshold is instead derived from WithRAMBudgetGB via
// the RAM budgeter.
func WithMemThreshold(n int) Option {
	return func(o *options) { o.memThreshold = n }
}

// WithRAMBudgetGB sets the total RAM budget in GiB used to derive the
// memory-index capacity threshold when WithMemThreshold is not set.
func WithRAMBudgetGB(g float64) Option {
	return func(o *options) { o.ramBudgetGB = g }
}

// WithDistanceMetric selects the distance function both substrates rank
// candidates by. Defaults to SquaredL2.
func WithDistanceMetric(m metric.Type) Option {
	return func(o *options) { o.distanceMetric = m }
}

// WithMaxDegree sets R, the bounded out-degree used by both the memory
// index's graph and the disk index's Vamana graph build. Also feeds the
// RAM budgeter's per-point size estimate.
func WithMaxDegree(r int) Option {
	return func(o *options) { o.maxDegree = r }
}

// WithSearchListSize sets the default search list size L used when a
// caller does not pass one explicitly to Search.
func WithSearchListSize(l int) Option {
	return func(o *options) { o.searchListSize = l }
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) { o.metricsCollector = mc }
}

// WithLogger configures structured logging for operations.
func WithLogger(logger *Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLogLevel creates a text logger at the given level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) { o.logger = NewTextLogger(level) }
}

func applyOptions(optFns []Option) options {
	o := options{
		maxDegree:        64,
		searchListSize:   100,
		beamWidth:        4,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
