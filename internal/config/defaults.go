package config

const (
	defaultDataDir             = "~/.local/share/pulp"
	defaultVectorDir           = "~/.local/share/pulp/vectors"
	defaultGraphDir            = "~/.local/share/pulp/graph"
	defaultSocketPath          = "~/.local/share/pulp/pulpd.sock"
	defaultLogDir              = "~/.local/share/pulp/logs"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultConcurrency         = 2
	maxConcurrency             = 3
	defaultMaxRetries          = 2
	defaultRetryBackoffSeconds = 1
	defaultParseTimeout        = 600
	defaultChunkTimeout        = 60
	defaultEmbedTimeout        = 300
	defaultGraphTimeout        = 300
	defaultMinAvailableMB      = 512
	defaultProbeCacheSeconds   = 1
	defaultParserBaseURL       = "http://127.0.0.1:8931"
	defaultStartupTimeout      = 120
	defaultHealthPollInterval  = 1
	defaultStopGraceSeconds    = 10
	defaultChunkSize           = 1200
	defaultChunkOverlap        = 200
	defaultChunkStrategy       = "paragraph"
	defaultChunkEncoding       = "cl100k_base"
	defaultEmbeddingModel      = "text-embedding-3-small"
	defaultGraphMode           = "inline"
	defaultHTTPBind            = "127.0.0.1:7517"
	defaultEventBufferSize     = 512
	defaultSubscriberBuffer    = 64
	defaultNotifyTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			VectorDir:  defaultVectorDir,
			GraphDir:   defaultGraphDir,
			SocketPath: defaultSocketPath,
		},
		Pipeline: Pipeline{
			Concurrency:         defaultConcurrency,
			MaxRetries:          defaultMaxRetries,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
			ParseTimeout:        defaultParseTimeout,
			ChunkTimeout:        defaultChunkTimeout,
			EmbedTimeout:        defaultEmbedTimeout,
			GraphTimeout:        defaultGraphTimeout,
		},
		Resources: Resources{
			MinAvailableMemoryMB: defaultMinAvailableMB,
			ProbeCacheSeconds:    defaultProbeCacheSeconds,
		},
		Parser: Parser{
			BaseURL:            defaultParserBaseURL,
			StartupTimeout:     defaultStartupTimeout,
			HealthPollInterval: defaultHealthPollInterval,
			StopGraceSeconds:   defaultStopGraceSeconds,
		},
		Chunking: Chunking{
			Size:     defaultChunkSize,
			Overlap:  defaultChunkOverlap,
			Strategy: defaultChunkStrategy,
			Encoding: defaultChunkEncoding,
		},
		Embedding: Embedding{
			Model: defaultEmbeddingModel,
		},
		Graph: Graph{
			Mode: defaultGraphMode,
		},
		HTTP: HTTP{
			Bind: defaultHTTPBind,
		},
		Events: Events{
			BufferSize:       defaultEventBufferSize,
			SubscriberBuffer: defaultSubscriberBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			BatchComplete:  true,
			Errors:         true,
		},
		Logging: Logging{
			Format:    defaultLogFormat,
			Level:     defaultLogLevel,
			Directory: defaultLogDir,
		},
	}
}
