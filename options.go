package olcart

import (
	"log/slog"

	"github.com/ezreal1997/olcart/internal/epoch"
)

const (
	defaultReclaimThreshold = epoch.DefaultThreshold
	defaultAdvanceInterval  = epoch.DefaultAdvanceInterval
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	reclaimThreshold int
	advanceInterval  int
}

// Option configures a Tree.
type Option func(*options)

// WithLogger configures structured logging. Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := olcart.NewJSONLogger(slog.LevelDebug)
//	tree, _ := olcart.New(loadKey, olcart.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
//	metrics := &olcart.BasicMetricsCollector{}
//	tree, _ := olcart.New(loadKey, olcart.WithMetricsCollector(metrics))
//	// ... use tree ...
//	fmt.Println(metrics.GetStats().Restarts)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithReclaimThreshold sets how many retired nodes a session collects before
// it tries to free them. Values below 1 keep the default.
func WithReclaimThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.reclaimThreshold = n
		}
	}
}

// WithEpochAdvanceInterval sets after how many retirements the global epoch
// is advanced. Values below 1 keep the default.
func WithEpochAdvanceInterval(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.advanceInterval = n
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		reclaimThreshold: defaultReclaimThreshold,
		advanceInterval:  defaultAdvanceInterval,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
