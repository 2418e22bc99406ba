package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Agent    AgentConfig    `yaml:"agent"`
	Audio    AudioConfig    `yaml:"audio"`
	Video    VideoConfig    `yaml:"video"`
	Session  SessionConfig  `yaml:"session"`
	Review   ReviewConfig   `yaml:"review"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig contains the API/websocket server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// AgentConfig contains the remote live-agent transport configuration
type AgentConfig struct {
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds
	OutboundQueue    int    `yaml:"outbound_queue"`
}

// AudioConfig contains audio pipeline parameters
type AudioConfig struct {
	UplinkRate     int     `yaml:"uplink_rate"`     // fixed PCM16 rate sent to the agent
	PlaybackRate   int     `yaml:"playback_rate"`   // fixed rate of inbound agent audio
	BlockSize      int     `yaml:"block_size"`      // capture samples per tap block
	VoiceThreshold float64 `yaml:"voice_threshold"` // RMS level treated as speech
}

// VideoConfig contains frame sampling parameters
type VideoConfig struct {
	FrameInterval float64 `yaml:"frame_interval"` // seconds between uplink frames
	MaxWidth      int     `yaml:"max_width"`
	JPEGQuality   int     `yaml:"jpeg_quality"`
}

// SessionConfig contains live session lifecycle parameters
type SessionConfig struct {
	IdleTimeout int `yaml:"idle_timeout"` // seconds
	MaxSessions int `yaml:"max_sessions"`
}

// ReviewConfig contains timeline review parameters
type ReviewConfig struct {
	DwellSeconds  float64 `yaml:"dwell_seconds"`
	SeekThreshold float64 `yaml:"seek_threshold"` // backward jump treated as a seek
}

// AnalysisConfig contains the analysis/coordinate API client configuration
type AnalysisConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. Values of the form ${VAR}
// are expanded from the environment before parsing, so API keys can live in
// the environment (or a .env file) rather than on disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return "${" + key + "}"
	})

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Video.Validate(); err != nil {
		return fmt.Errorf("video config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Review.Validate(); err != nil {
		return fmt.Errorf("review config: %w", err)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP server configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates agent transport configuration
func (a *AgentConfig) Validate() error {
	if a.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if !strings.HasPrefix(a.URL, "ws://") && !strings.HasPrefix(a.URL, "wss://") {
		return fmt.Errorf("url must use ws:// or wss:// scheme, got %q", a.URL)
	}

	if a.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", a.HandshakeTimeout)
	}

	if a.OutboundQueue < 1 {
		return fmt.Errorf("outbound_queue must be at least 1, got %d", a.OutboundQueue)
	}

	return nil
}

// Validate validates audio pipeline configuration
func (a *AudioConfig) Validate() error {
	if a.UplinkRate != 16000 {
		return fmt.Errorf("uplink_rate must be 16000 Hz for the agent protocol, got %d", a.UplinkRate)
	}

	if a.PlaybackRate != 24000 {
		return fmt.Errorf("playback_rate must be 24000 Hz for the agent protocol, got %d", a.PlaybackRate)
	}

	if a.BlockSize < 128 || a.BlockSize > 16384 {
		return fmt.Errorf("block_size must be between 128 and 16384 samples, got %d", a.BlockSize)
	}

	if a.VoiceThreshold < 0 || a.VoiceThreshold > 1 {
		return fmt.Errorf("voice_threshold must be between 0 and 1, got %f", a.VoiceThreshold)
	}

	return nil
}

// Validate validates frame sampling configuration
func (v *VideoConfig) Validate() error {
	if v.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive, got %f", v.FrameInterval)
	}

	if v.MaxWidth < 64 || v.MaxWidth > 4096 {
		return fmt.Errorf("max_width must be between 64 and 4096 pixels, got %d", v.MaxWidth)
	}

	if v.JPEGQuality < 1 || v.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", v.JPEGQuality)
	}

	return nil
}

// Validate validates session lifecycle configuration
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates timeline review configuration
func (r *ReviewConfig) Validate() error {
	if r.DwellSeconds <= 0 {
		return fmt.Errorf("dwell_seconds must be positive, got %f", r.DwellSeconds)
	}

	if r.SeekThreshold <= 0 {
		return fmt.Errorf("seek_threshold must be positive, got %f", r.SeekThreshold)
	}

	return nil
}

// Validate validates analysis client configuration
func (a *AnalysisConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if a.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetHandshakeTimeout returns the handshake timeout as a time.Duration
func (a *AgentConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(a.HandshakeTimeout) * time.Second
}

// GetIdleTimeout returns the session idle timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetFrameInterval returns the frame sampling interval as a time.Duration
func (v *VideoConfig) GetFrameInterval() time.Duration {
	return time.Duration(v.FrameInterval * float64(time.Second))
}

// GetDwell returns the review dwell time as a time.Duration
func (r *ReviewConfig) GetDwell() time.Duration {
	return time.Duration(r.DwellSeconds * float64(time.Second))
}

// GetTimeout returns the analysis client timeout as a time.Duration
func (a *AnalysisConfig) GetTimeout() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}
