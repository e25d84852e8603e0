package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeResources()
	c.normalizeParser()
	c.normalizeChunking()
	c.normalizeEmbedding()
	c.normalizeGraph()
	c.normalizeHTTP()
	c.normalizeEvents()
	c.normalizeNotifications()
	return c.normalizeLogging()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.VectorDir) == "" {
		c.Paths.VectorDir = defaultVectorDir
	}
	if c.Paths.VectorDir, err = expandPath(c.Paths.VectorDir); err != nil {
		return fmt.Errorf("paths.vector_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.GraphDir) == "" {
		c.Paths.GraphDir = defaultGraphDir
	}
	if c.Paths.GraphDir, err = expandPath(c.Paths.GraphDir); err != nil {
		return fmt.Errorf("paths.graph_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = defaultSocketPath
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = defaultConcurrency
	}
	if c.Pipeline.MaxRetries < 0 {
		c.Pipeline.MaxRetries = defaultMaxRetries
	}
	if c.Pipeline.RetryBackoffSeconds <= 0 {
		c.Pipeline.RetryBackoffSeconds = defaultRetryBackoffSeconds
	}
	if c.Pipeline.ParseTimeout <= 0 {
		c.Pipeline.ParseTimeout = defaultParseTimeout
	}
	if c.Pipeline.ChunkTimeout <= 0 {
		c.Pipeline.ChunkTimeout = defaultChunkTimeout
	}
	if c.Pipeline.EmbedTimeout <= 0 {
		c.Pipeline.EmbedTimeout = defaultEmbedTimeout
	}
	if c.Pipeline.GraphTimeout <= 0 {
		c.Pipeline.GraphTimeout = defaultGraphTimeout
	}
}

func (c *Config) normalizeResources() {
	if c.Resources.MinAvailableMemoryMB < 0 {
		c.Resources.MinAvailableMemoryMB = defaultMinAvailableMB
	}
	if c.Resources.ProbeCacheSeconds < 0 {
		c.Resources.ProbeCacheSeconds = defaultProbeCacheSeconds
	}
}

func (c *Config) normalizeParser() {
	c.Parser.Command = strings.TrimSpace(c.Parser.Command)
	c.Parser.BaseURL = strings.TrimRight(strings.TrimSpace(c.Parser.BaseURL), "/")
	if c.Parser.BaseURL == "" {
		c.Parser.BaseURL = defaultParserBaseURL
	}
	if c.Parser.StartupTimeout <= 0 {
		c.Parser.StartupTimeout = defaultStartupTimeout
	}
	if c.Parser.HealthPollInterval <= 0 {
		c.Parser.HealthPollInterval = defaultHealthPollInterval
	}
	if c.Parser.KeepaliveSeconds < 0 {
		c.Parser.KeepaliveSeconds = 0
	}
	if c.Parser.StopGraceSeconds <= 0 {
		c.Parser.StopGraceSeconds = defaultStopGraceSeconds
	}
}

func (c *Config) normalizeChunking() {
	if c.Chunking.Size <= 0 {
		c.Chunking.Size = defaultChunkSize
	}
	if c.Chunking.Overlap < 0 {
		c.Chunking.Overlap = defaultChunkOverlap
	}
	c.Chunking.Strategy = strings.ToLower(strings.TrimSpace(c.Chunking.Strategy))
	if c.Chunking.Strategy == "" {
		c.Chunking.Strategy = defaultChunkStrategy
	}
	c.Chunking.Encoding = strings.TrimSpace(c.Chunking.Encoding)
	if c.Chunking.Encoding == "" {
		c.Chunking.Encoding = defaultChunkEncoding
	}
}

func (c *Config) normalizeEmbedding() {
	c.Embedding.BaseURL = strings.TrimRight(strings.TrimSpace(c.Embedding.BaseURL), "/")
	c.Embedding.APIKey = strings.TrimSpace(c.Embedding.APIKey)
	if c.Embedding.APIKey == "" {
		if value, ok := os.LookupEnv("PULP_EMBED_API_KEY"); ok {
			c.Embedding.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.Embedding.APIKey = strings.TrimSpace(value)
		}
	}
	c.Embedding.Model = strings.TrimSpace(c.Embedding.Model)
	if c.Embedding.Model == "" {
		c.Embedding.Model = defaultEmbeddingModel
	}
}

func (c *Config) normalizeGraph() {
	c.Graph.Mode = strings.ToLower(strings.TrimSpace(c.Graph.Mode))
	if c.Graph.Mode == "" {
		c.Graph.Mode = defaultGraphMode
	}
	c.Graph.BaseURL = strings.TrimRight(strings.TrimSpace(c.Graph.BaseURL), "/")
}

func (c *Config) normalizeHTTP() {
	c.HTTP.Bind = strings.TrimSpace(c.HTTP.Bind)
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = defaultHTTPBind
	}
}

func (c *Config) normalizeEvents() {
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = defaultEventBufferSize
	}
	if c.Events.SubscriberBuffer <= 0 {
		c.Events.SubscriberBuffer = defaultSubscriberBuffer
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Directory) == "" {
		c.Logging.Directory = defaultLogDir
	}
	var err error
	if c.Logging.Directory, err = expandPath(c.Logging.Directory); err != nil {
		return fmt.Errorf("logging.directory: %w", err)
	}
	return nil
}
