// Package config handles configuration loading, validation, and persistence
// for the sparcd server.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Version is the sparcd release reported by the CLI and status API.
const Version = "1.0.0"

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "sparcd.json"
	DefaultPort        = 20801
	DefaultMaxQueue    = 1
	DefaultMaxFrame    = 128
	DefaultMaxInit     = 1 << 20
	DefaultMaxAtoms    = 1 << 20
	DefaultAPIPort     = 20880
	DefaultCleanupTime = "04:00"

	EngineEcho         = "echo"
	EngineLennardJones = "lennard-jones"
)

// Config is the root configuration structure for sparcd.
type Config struct {
	mu   sync.RWMutex
	path string

	Server  ServerConfig  `json:"server" toml:"server"`
	Compute ComputeConfig `json:"compute" toml:"compute"`
	Logging LoggingConfig `json:"logging" toml:"logging"`
	Journal JournalConfig `json:"journal" toml:"journal"`
	API     APIConfig     `json:"api" toml:"api"`
	MQTT    MQTTConfig    `json:"mqtt" toml:"mqtt"`
	Health  HealthConfig  `json:"health" toml:"health"`
}

// ServerConfig holds the wire protocol listener and session limits.
type ServerConfig struct {
	Host          string `json:"host" toml:"host"`
	Port          int    `json:"port" toml:"port"`
	MaxQueue      int    `json:"max_queue" toml:"max_queue"`
	MaxFrameBytes int    `json:"max_frame_bytes" toml:"max_frame_bytes"`
	MaxInitBytes  int    `json:"max_init_bytes" toml:"max_init_bytes"`
	MaxAtoms      int    `json:"max_atoms" toml:"max_atoms"`
	ErrorReplies  bool   `json:"error_replies" toml:"error_replies"`
}

// ComputeConfig selects the engine used by GETFORCE and GETSTRESS.
type ComputeConfig struct {
	Engine  string  `json:"engine" toml:"engine"`
	Epsilon float64 `json:"epsilon" toml:"epsilon"`
	Sigma   float64 `json:"sigma" toml:"sigma"`
	Cutoff  float64 `json:"cutoff" toml:"cutoff"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" toml:"level"`
	Directory  string `json:"directory" toml:"directory"`
	MaxBackups int    `json:"max_backups" toml:"max_backups"`
}

// JournalConfig holds the session journal settings.
type JournalConfig struct {
	Enabled       bool   `json:"enabled" toml:"enabled"`
	Path          string `json:"path" toml:"path"`
	RetentionDays int    `json:"retention_days" toml:"retention_days"`
	CleanupTime   string `json:"cleanup_time" toml:"cleanup_time"`
}

// APIConfig holds the read-only status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" toml:"enabled"`
	Host           string   `json:"host" toml:"host"`
	Port           int      `json:"port" toml:"port"`
	AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" toml:"enabled"`
	BrokerURL   string `json:"broker_url" toml:"broker_url"`
	Port        int    `json:"port" toml:"port"`
	UseTLS      bool   `json:"use_tls" toml:"use_tls"`
	CertFile    string `json:"cert_file" toml:"cert_file"`
	KeyFile     string `json:"key_file" toml:"key_file"`
	ClientID    string `json:"client_id" toml:"client_id"`
	TopicPrefix string `json:"topic_prefix" toml:"topic_prefix"`
}

// HealthConfig holds the periodic health check intervals in seconds. Zero
// disables a check.
type HealthConfig struct {
	HeartbeatInterval int    `json:"heartbeat_interval" toml:"heartbeat_interval"`
	DiskCheckInterval int    `json:"disk_check_interval" toml:"disk_check_interval"`
	DiskPath          string `json:"disk_path" toml:"disk_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		path: filepath.Join(DefaultConfigDir, DefaultConfigFile),
		Server: ServerConfig{
			Host:          "",
			Port:          DefaultPort,
			MaxQueue:      DefaultMaxQueue,
			MaxFrameBytes: DefaultMaxFrame,
			MaxInitBytes:  DefaultMaxInit,
			MaxAtoms:      DefaultMaxAtoms,
		},
		Compute: ComputeConfig{
			Engine:  EngineEcho,
			Epsilon: 1.0,
			Sigma:   1.0,
			Cutoff:  2.5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          filepath.Join("data", "sparcd.db"),
			RetentionDays: 7,
			CleanupTime:   DefaultCleanupTime,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    DefaultAPIPort,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "sparcd",
		},
		Health: HealthConfig{
			HeartbeatInterval: 60,
			DiskCheckInterval: 300,
			DiskPath:          ".",
		},
	}
}

// Load reads configuration from a JSON or TOML file, chosen by extension.
// File values overlay the defaults; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the current configuration to its path.
func (c *Config) Save() error {
	return c.SaveAs(c.Path())
}

// SaveAs writes the configuration to path in the format implied by its
// extension.
func (c *Config) SaveAs(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetServer updates the server configuration.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s
}

// GetCompute returns a copy of the compute configuration.
func (c *Config) GetCompute() ComputeConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Compute
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// GetJournal returns a copy of the journal configuration.
func (c *Config) GetJournal() JournalConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Journal
}

// GetAPI returns a copy of the status API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetHealth returns a copy of the health check configuration.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// Path returns the config file path.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
