package mongofiles

import (
	"strings"
	"sync"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

const (
	// DefaultBucketName is used when a configuration names no bucket.
	DefaultBucketName = "FS"

	// DefaultMaxFields bounds the number of form fields in one upload.
	DefaultMaxFields = 1000

	// DefaultMaxFieldBytes bounds the size of one form field value.
	DefaultMaxFieldBytes = 1 << 20
)

// BucketConfig configures one named bucket.
type BucketConfig struct {
	// Database is the store the bucket lives in. Required.
	Database Database

	// BucketName names the GridFS prefix or the collection. Defaults to
	// DefaultBucketName.
	BucketName string

	// Kind selects the storage strategy. Defaults to KindChunked. It is
	// fixed by the first configuration of a bucket name.
	Kind StrategyKind

	// FileField, if set, is the form field name of the file part. File
	// parts under other names are ignored.
	FileField string

	// IDGenerator generates upload identifiers. Required.
	IDGenerator IDGenerator

	// MaxFields and MaxFieldBytes bound the form fields collected during
	// staging. Zero selects the defaults.
	MaxFields     int
	MaxFieldBytes int64

	// MaxDocumentSize bounds files stored with KindDocument.
	MaxDocumentSize int64

	// ChunkSize sets the GridFS chunk size for KindChunked.
	ChunkSize int
}

// BucketHandle is the store handle shared by every configuration of one
// bucket name.
type BucketHandle struct {
	Name     string
	Kind     StrategyKind
	Strategy Strategy
}

// Registry caches one BucketHandle per bucket name for its lifetime. It is
// created once at startup and shared by all request handlers.
type Registry struct {
	staging *Staging
	clock   clock.Clock
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	handles map[string]*BucketHandle
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used by the registry and its buckets.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock sets the clock used to stamp upload dates.
func WithClock(clk clock.Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clk
	}
}

// WithMetrics sets the collectors buckets report to.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry returns an empty registry whose buckets stage uploads into
// staging.
func NewRegistry(staging *Staging, opts ...RegistryOption) (*Registry, error) {
	if staging == nil {
		return nil, configErrorf("staging area not provided")
	}
	r := &Registry{
		staging: staging,
		clock:   clock.WallClock,
		logger:  zap.NewNop(),
		handles: make(map[string]*BucketHandle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Configure returns a Bucket for cfg. The first configuration of a name
// creates its store handle; later configurations reuse it and must ask for
// the same strategy kind.
func (r *Registry) Configure(cfg BucketConfig) (*Bucket, error) {
	if cfg.Database == nil {
		return nil, configErrorf("database not provided")
	}
	if cfg.IDGenerator == nil {
		return nil, configErrorf("id generator not provided")
	}
	name := cfg.BucketName
	if name == "" {
		name = DefaultBucketName
	}
	if !isValidBucketName(name) {
		return nil, configErrorf("invalid bucket name %q", name)
	}
	kind := cfg.Kind
	if kind == "" {
		kind = KindChunked
	}
	if kind != KindChunked && kind != KindDocument {
		return nil, configErrorf("unknown storage strategy %q", kind)
	}

	handle, err := r.handle(name, kind, cfg)
	if err != nil {
		return nil, err
	}

	maxFields := cfg.MaxFields
	if maxFields <= 0 {
		maxFields = DefaultMaxFields
	}
	maxFieldBytes := cfg.MaxFieldBytes
	if maxFieldBytes <= 0 {
		maxFieldBytes = DefaultMaxFieldBytes
	}
	return &Bucket{
		handle:        handle,
		staging:       r.staging,
		newID:         cfg.IDGenerator,
		fileField:     cfg.FileField,
		maxFields:     maxFields,
		maxFieldBytes: maxFieldBytes,
		logger:        r.logger.With(zap.String("bucket", name)),
		metrics:       r.metrics,
	}, nil
}

// Handle returns the cached handle for name, if any.
func (r *Registry) Handle(name string) (*BucketHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	return h, ok
}

func (r *Registry) handle(name string, kind StrategyKind, cfg BucketConfig) (*BucketHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		if h.Kind != kind {
			return nil, configErrorf("bucket %q already configured with strategy %q, not %q", name, h.Kind, kind)
		}
		return h, nil
	}

	var strategy Strategy
	switch kind {
	case KindChunked:
		strategy = NewGridFSStrategy(cfg.Database.GridFS(name), cfg.ChunkSize)
	case KindDocument:
		strategy = NewDocumentStrategy(cfg.Database.C(name), r.clock, cfg.MaxDocumentSize)
	}
	h := &BucketHandle{Name: name, Kind: kind, Strategy: strategy}
	r.handles[name] = h
	r.logger.Info("bucket created", zap.String("bucket", name), zap.String("strategy", string(kind)))
	return h, nil
}

// Collection names may not be empty or contain '$' or NUL.
func isValidBucketName(name string) bool {
	if name == "" || len(name) > 120 {
		return false
	}
	if strings.ContainsAny(name, "$\x00") || strings.HasPrefix(name, "system.") {
		return false
	}
	return true
}
