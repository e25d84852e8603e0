package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	VectorDir  string `toml:"vector_dir"`
	GraphDir   string `toml:"graph_dir"`
	SocketPath string `toml:"socket_path"`
}

// Pipeline contains per-document pipeline settings.
type Pipeline struct {
	Concurrency         int `toml:"concurrency"`
	MaxRetries          int `toml:"max_retries"`
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
	ParseTimeout        int `toml:"parse_timeout"`
	ChunkTimeout        int `toml:"chunk_timeout"`
	EmbedTimeout        int `toml:"embed_timeout"`
	GraphTimeout        int `toml:"graph_timeout"`
}

// Resources contains the pre-flight memory gate settings.
type Resources struct {
	MinAvailableMemoryMB float64 `toml:"min_available_memory_mb"`
	ProbeCacheSeconds    int     `toml:"probe_cache_seconds"`
}

// Parser contains configuration for the managed parsing backend.
type Parser struct {
	Command            string   `toml:"command"`
	Args               []string `toml:"args"`
	BaseURL            string   `toml:"base_url"`
	StartupTimeout     int      `toml:"startup_timeout"`
	HealthPollInterval int      `toml:"health_poll_interval"`
	KeepaliveSeconds   int      `toml:"keepalive_seconds"`
	StopGraceSeconds   int      `toml:"stop_grace_seconds"`
}

// Chunking contains chunker component settings.
type Chunking struct {
	Size     int    `toml:"size"`
	Overlap  int    `toml:"overlap"`
	Strategy string `toml:"strategy"`
	Encoding string `toml:"encoding"`
}

// Embedding contains the OpenAI-compatible embedding endpoint settings.
type Embedding struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// Graph contains graph store settings.
type Graph struct {
	Mode    string `toml:"mode"`
	BaseURL string `toml:"base_url"`
}

// HTTP contains the HTTP API bind address.
type HTTP struct {
	Bind string `toml:"bind"`
}

// Events contains progress event bus sizing.
type Events struct {
	BufferSize       int `toml:"buffer_size"`
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	BatchComplete  bool   `toml:"batch_complete"`
	Errors         bool   `toml:"errors"`
	Lifecycle      bool   `toml:"lifecycle"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format    string `toml:"format"`
	Level     string `toml:"level"`
	Directory string `toml:"directory"`
}

// Config encapsulates all configuration values for pulp.
//
// Configuration sections by subsystem:
//   - Paths: data, vector, and graph directories plus the IPC socket
//   - Pipeline: concurrency cap, retry budget, and per-stage timeouts
//   - Resources: pre-flight memory floor
//   - Parser: managed parsing backend command, endpoint, and startup policy
//   - Chunking: chunk size, overlap, splitting strategy, token encoding
//   - Embedding: OpenAI-compatible embedding endpoint
//   - Graph: inline (embedded badger) or remote graph store
//   - HTTP: API bind address
//   - Events: progress bus buffer sizing
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and directory
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Resources     Resources     `toml:"resources"`
	Parser        Parser        `toml:"parser"`
	Chunking      Chunking      `toml:"chunking"`
	Embedding     Embedding     `toml:"embedding"`
	Graph         Graph         `toml:"graph"`
	HTTP          HTTP          `toml:"http"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pulp/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("pulp.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.VectorDir,
		c.Paths.GraphDir,
		c.Logging.Directory,
		filepath.Dir(c.Paths.SocketPath),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CatalogPath returns the SQLite catalog database location.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Paths.DataDir, "catalog.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "pulpd.lock")
}

// PIDPath returns the file the running daemon records its process id in.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "pulpd.pid")
}

// LogPath returns the daemon log file location, or "" when file logging is
// disabled.
func (c *Config) LogPath() string {
	if strings.TrimSpace(c.Logging.Directory) == "" {
		return ""
	}
	return filepath.Join(c.Logging.Directory, "pulpd.log")
}

// StageTimeout returns the configured duration for the named pipeline stage.
// Unknown stages get the parse timeout, the longest of the four.
func (c *Config) StageTimeout(stage string) time.Duration {
	seconds := c.Pipeline.ParseTimeout
	switch stage {
	case "parse":
		seconds = c.Pipeline.ParseTimeout
	case "chunk":
		seconds = c.Pipeline.ChunkTimeout
	case "embed":
		seconds = c.Pipeline.EmbedTimeout
	case "extract_graph":
		seconds = c.Pipeline.GraphTimeout
	}
	return time.Duration(seconds) * time.Second
}

// RetryBackoff returns the base delay between same-stage retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
