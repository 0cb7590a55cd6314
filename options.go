package mvccindex

import (
	"github.com/blevesearch/bleve/v2/analysis"

	"github.com/hupe1980/mvccindex/blobstore"
	"github.com/hupe1980/mvccindex/codec"
	"github.com/hupe1980/mvccindex/internal/resource"
	"github.com/hupe1980/mvccindex/metrics"
)

type options struct {
	config             Config
	logger             *Logger
	backend            blobstore.BlobStore
	committer          blobstore.Committer
	observer           metrics.Observer
	resourceController *resource.Controller
	codec              codec.Codec
	analyzer           analysis.Analyzer
}

// Option configures Open.
type Option func(*options)

// WithConfig replaces the whole configuration. Options applied after it
// override individual fields.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := mvccindex.NewJSONLogger(os.Stderr, slog.LevelInfo)
//	db, _ := mvccindex.Open(ctx, mvccindex.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithBlobStore checkpoints to store instead of the storage section of the
// configuration. committer may be nil to publish through store itself.
func WithBlobStore(store blobstore.BlobStore, committer blobstore.Committer) Option {
	return func(o *options) {
		o.backend = store
		o.committer = committer
	}
}

// WithMetricsObserver configures a metrics observer for scans.
// Pass nil to disable metrics collection.
//
// Example with Prometheus:
//
//	obs := metrics.NewPrometheusObserver(prometheus.DefaultRegisterer)
//	db, _ := mvccindex.Open(ctx, mvccindex.WithMetricsObserver(obs))
func WithMetricsObserver(obs metrics.Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithResourceController shares a resource controller between databases.
// It overrides the limits of the configuration.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resourceController = rc
	}
}

// WithCodec configures the codec for worker messages, manifests and
// segment columns. If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithAnalyzer overrides the text analyzer segments are built and queried
// with.
func WithAnalyzer(an analysis.Analyzer) Option {
	return func(o *options) {
		o.analyzer = an
	}
}

// WithMaxParallelWorkers caps the workers of one aggregation scan.
// Zero runs every scan sequentially.
func WithMaxParallelWorkers(n int) Option {
	return func(o *options) {
		o.config.MaxParallelWorkers = n
	}
}

// WithLeaderParticipation controls whether the goroutine coordinating a
// scan also claims segments.
func WithLeaderParticipation(enabled bool) Option {
	return func(o *options) {
		o.config.LeaderParticipation = enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		config: DefaultConfig(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
