package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// MinPort is the lowest port accepted for the wire protocol listener.
const MinPort = 1025

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(cfg.GetServer(), result)
	validateCompute(cfg.GetCompute(), result)
	validateJournal(cfg.GetJournal(), result)
	validateAPI(cfg.GetAPI(), cfg.GetServer(), result)
	validateMQTT(cfg.GetMQTT(), result)
	validateHealth(cfg.GetHealth(), result)

	return result
}

func validateServer(s ServerConfig, result *ValidationResult) {
	if s.Port < MinPort || s.Port > 65535 {
		result.AddError("server.port",
			fmt.Sprintf("invalid port number: %d (must be %d-65535)", s.Port, MinPort))
	}
	if s.MaxQueue < 1 {
		result.AddError("server.max_queue", "listen queue must be at least 1")
	}
	if s.Host != "" && net.ParseIP(s.Host) == nil && s.Host != "localhost" {
		result.AddWarning("server.host", fmt.Sprintf("%q is not an IP address, it will be resolved at startup", s.Host))
	}

	// The longest command token plus the end-of-record marker must fit.
	if s.MaxFrameBytes < len("GETSTRESS\r\n\r\n") {
		result.AddError("server.max_frame_bytes",
			fmt.Sprintf("frame capacity %d cannot hold a command frame", s.MaxFrameBytes))
	}
	if s.MaxFrameBytes > 1<<16 {
		result.AddWarning("server.max_frame_bytes", "frame capacity above 64KiB is unusual for text frames")
	}
	if s.MaxInitBytes < 0 {
		result.AddError("server.max_init_bytes", "must not be negative")
	}
	if s.MaxAtoms < 0 {
		result.AddError("server.max_atoms", "must not be negative")
	}
}

func validateCompute(c ComputeConfig, result *ValidationResult) {
	switch c.Engine {
	case EngineEcho:
	case EngineLennardJones:
		if c.Epsilon <= 0 {
			result.AddError("compute.epsilon", "must be positive")
		}
		if c.Sigma <= 0 {
			result.AddError("compute.sigma", "must be positive")
		}
		if c.Cutoff < 0 {
			result.AddError("compute.cutoff", "must not be negative")
		} else if c.Cutoff == 0 {
			result.AddWarning("compute.cutoff", "no cutoff, every pair is evaluated")
		}
	default:
		result.AddError("compute.engine",
			fmt.Sprintf("unknown engine %q (expected %s or %s)", c.Engine, EngineEcho, EngineLennardJones))
	}
}

func validateJournal(j JournalConfig, result *ValidationResult) {
	if !j.Enabled {
		return
	}
	if strings.TrimSpace(j.Path) == "" {
		result.AddError("journal.path", "journal path is required when enabled")
	}
	if j.RetentionDays < 1 {
		result.AddError("journal.retention_days", "retention days must be at least 1")
	}
	if _, err := time.Parse("15:04", j.CleanupTime); err != nil {
		result.AddError("journal.cleanup_time", fmt.Sprintf("invalid time %q (expected HH:MM)", j.CleanupTime))
	}
}

func validateAPI(a APIConfig, s ServerConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Port == s.Port {
		result.AddError("api.port", "port conflict detected: api and server ports must differ")
	}
	if a.Host != "127.0.0.1" && a.Host != "localhost" && a.Host != "::1" {
		result.AddWarning("api.host", "status API is exposed beyond loopback without authentication")
	}
}

func validateMQTT(m MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddWarning("mqtt.topic_prefix", "empty topic prefix, topics will start with a slash")
	}
}

func validateHealth(h HealthConfig, result *ValidationResult) {
	if h.HeartbeatInterval < 0 {
		result.AddError("health.heartbeat_interval", "must not be negative")
	}
	if h.DiskCheckInterval < 0 {
		result.AddError("health.disk_check_interval", "must not be negative")
	}
	if h.DiskCheckInterval > 0 && strings.TrimSpace(h.DiskPath) == "" {
		result.AddWarning("health.disk_path", "empty disk path, the working directory is checked")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
