package testsupport

import (
	"path/filepath"
	"testing"

	"pulp/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The token encoding is switched to an offline approximation so splitter
// construction never fetches BPE tables.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.VectorDir = filepath.Join(base, "vectors")
	cfgVal.Paths.GraphDir = filepath.Join(base, "graph")
	cfgVal.Paths.SocketPath = filepath.Join(base, "pulpd.sock")
	cfgVal.Logging.Directory = filepath.Join(base, "logs")
	cfgVal.HTTP.Bind = "127.0.0.1:0"
	cfgVal.Chunking.Encoding = "test-approx"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithConcurrency sets the batch worker count on the test config.
func WithConcurrency(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Concurrency = workers
	}
}

// WithMaxRetries sets the per-stage retry budget on the test config.
func WithMaxRetries(retries int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxRetries = retries
	}
}

// WithoutRetryBackoff zeroes the retry delay so retry paths run without
// waiting. The resulting config no longer passes Validate.
func WithoutRetryBackoff() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.RetryBackoffSeconds = 0
	}
}

// WithNtfyTopic points notifications at the provided topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
