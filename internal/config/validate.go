package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateResources(); err != nil {
		return err
	}
	if err := c.validateParser(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateGraph(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > maxConcurrency {
		return fmt.Errorf("pipeline.concurrency must be between 1 and %d", maxConcurrency)
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	return ensurePositiveMap(map[string]int{
		"pipeline.retry_backoff_seconds": c.Pipeline.RetryBackoffSeconds,
		"pipeline.parse_timeout":         c.Pipeline.ParseTimeout,
		"pipeline.chunk_timeout":         c.Pipeline.ChunkTimeout,
		"pipeline.embed_timeout":         c.Pipeline.EmbedTimeout,
		"pipeline.graph_timeout":         c.Pipeline.GraphTimeout,
	})
}

func (c *Config) validateResources() error {
	if c.Resources.MinAvailableMemoryMB < 0 {
		return errors.New("resources.min_available_memory_mb must be >= 0")
	}
	return nil
}

func (c *Config) validateParser() error {
	if strings.TrimSpace(c.Parser.BaseURL) == "" {
		return errors.New("parser.base_url must be set")
	}
	return ensurePositiveMap(map[string]int{
		"parser.startup_timeout":      c.Parser.StartupTimeout,
		"parser.health_poll_interval": c.Parser.HealthPollInterval,
		"parser.stop_grace_seconds":   c.Parser.StopGraceSeconds,
	})
}

func (c *Config) validateChunking() error {
	if c.Chunking.Size <= 0 {
		return errors.New("chunking.size must be positive")
	}
	if c.Chunking.Overlap < 0 {
		return errors.New("chunking.overlap must be >= 0")
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return errors.New("chunking.overlap must be smaller than chunking.size")
	}
	switch c.Chunking.Strategy {
	case "paragraph", "sentence", "fixed":
	default:
		return fmt.Errorf("chunking.strategy must be one of paragraph, sentence, fixed (got %q)", c.Chunking.Strategy)
	}
	return nil
}

func (c *Config) validateGraph() error {
	switch c.Graph.Mode {
	case "inline":
	case "remote":
		if strings.TrimSpace(c.Graph.BaseURL) == "" {
			return errors.New("graph.base_url must be set when graph.mode is remote")
		}
	default:
		return fmt.Errorf("graph.mode must be inline or remote (got %q)", c.Graph.Mode)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
