// Package config loads client and server settings from an optional YAML file.
// A missing file yields DefaultConfig; fields absent from the file keep their defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfig names the YAML file to load.
	EnvConfig = "BUILDPIPE_CONFIG"
	// EnvLogFile names the diagnostic log file; unset disables logging.
	EnvLogFile = "BUILDPIPE_LOG"
)

// Config represents the complete configuration shared by clients and the server.
type Config struct {
	Pipe     PipeConfig    `yaml:"pipe"`
	Server   ServerConfig  `yaml:"server"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Console  ConsoleConfig `yaml:"console"`
	Logging  LoggingConfig `yaml:"logging"`

	// Source is the absolute path Load read from, empty for pure defaults.
	// A spawned server is pointed at the same file.
	Source string `yaml:"-"`
}

// PipeConfig controls channel addressing.
type PipeConfig struct {
	BaseName string `yaml:"base_name"` // Address is <dir>/<base_name><pid>
	Dir      string `yaml:"dir"`       // Directory holding sockets and lock files
}

// ServerConfig describes the compiler server executable and its behavior.
type ServerConfig struct {
	Executable           string                    `yaml:"executable"`   // File name, resolved next to the client
	IdleTimeout          time.Duration             `yaml:"idle_timeout"` // Used until a client sends a keep-alive
	CompileTimeout       time.Duration             `yaml:"compile_timeout"`
	MaxRequestsPerSecond float64                   `yaml:"max_requests_per_second"` // 0 disables rate limiting
	Compilers            map[string]CompilerConfig `yaml:"compilers"`               // Keyed by language name
}

// CompilerConfig is the command the server runs for one language.
type CompilerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// TimeoutConfig contains the connection timing policy.
type TimeoutConfig struct {
	ExistingProcess time.Duration `yaml:"existing_process"` // Connect budget for an already running server
	NewProcess      time.Duration `yaml:"new_process"`      // Connect budget for a fresh server, and lock wait
	RetryInterval   time.Duration `yaml:"retry_interval"`   // Pause after "not found"
	MinAttempts     int           `yaml:"min_attempts"`
}

// ConsoleConfig selects the encoding used when the server output is not UTF-8.
type ConsoleConfig struct {
	Encoding string `yaml:"encoding"` // e.g. "windows-1252"; empty passes bytes through
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"` // "info", "debug"
}

// DefaultConfig returns a configuration with the standard timeouts.
func DefaultConfig() *Config {
	return &Config{
		Pipe: PipeConfig{
			BaseName: "buildpipe-",
			Dir:      filepath.Join(os.TempDir(), "buildpipe-"+strconv.Itoa(os.Getuid())),
		},
		Server: ServerConfig{
			Executable:     "buildserver",
			IdleTimeout:    10 * time.Minute,
			CompileTimeout: 10 * time.Minute,
			Compilers: map[string]CompilerConfig{
				"csharp":      {Command: "csc"},
				"visualbasic": {Command: "vbc"},
			},
		},
		Timeouts: TimeoutConfig{
			ExistingProcess: 2 * time.Second,
			NewProcess:      60 * time.Second,
			RetryInterval:   100 * time.Millisecond,
			MinAttempts:     3,
		},
		Logging: LoggingConfig{
			Level: "debug",
		},
	}
}

// Load reads the YAML file at filename on top of DefaultConfig.
// An empty filename or a missing file returns the defaults. Relative paths
// are resolved against the current directory.
func Load(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename != "" {
		// The server runs in its own directory, so a relative name would
		// resolve to a different file there.
		if abs, err := filepath.Abs(filename); err == nil {
			filename = abs
		}
		config.Source = filename

		data, err := os.ReadFile(filename)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if path := os.Getenv(EnvLogFile); path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		config.Logging.File = path
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromEnv loads the file named by BUILDPIPE_CONFIG.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvConfig))
}

// Validate rejects settings that would make a wait unbounded or meaningless.
func (c *Config) Validate() error {
	if c.Pipe.BaseName == "" {
		return fmt.Errorf("pipe.base_name must not be empty")
	}
	if c.Pipe.Dir == "" {
		return fmt.Errorf("pipe.dir must not be empty")
	}
	if c.Server.Executable == "" {
		return fmt.Errorf("server.executable must not be empty")
	}
	if c.Timeouts.ExistingProcess <= 0 || c.Timeouts.NewProcess <= 0 {
		return fmt.Errorf("connection timeouts must be positive")
	}
	if c.Timeouts.RetryInterval <= 0 {
		return fmt.Errorf("timeouts.retry_interval must be positive")
	}
	if c.Timeouts.MinAttempts < 1 {
		return fmt.Errorf("timeouts.min_attempts must be at least 1")
	}
	if c.Server.MaxRequestsPerSecond < 0 {
		return fmt.Errorf("server.max_requests_per_second must not be negative")
	}
	return nil
}
