// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "ACQUISITION_SERVICE"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Decoder  DecoderConfig  `mapstructure:"decoder"`
	Store    StoreConfig    `mapstructure:"store"`
	Stream   StreamConfig   `mapstructure:"stream"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SerialConfig holds the default serial line settings of a connect command
type SerialConfig struct {
	Driver         string        `mapstructure:"driver"`
	BaudRate       int           `mapstructure:"baud_rate"`
	DataBits       int           `mapstructure:"data_bits"`
	StopBits       string        `mapstructure:"stop_bits"`
	Parity         string        `mapstructure:"parity"`
	FlowControl    string        `mapstructure:"flow_control"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DecoderConfig holds the default framing settings
type DecoderConfig struct {
	Framing         string `mapstructure:"framing"`
	FieldSeparators string `mapstructure:"field_separators"`
	Delimiter       string `mapstructure:"delimiter"`
	ChannelNaming   string `mapstructure:"channel_naming"`
	MaxPending      int    `mapstructure:"max_pending"`
}

// StoreConfig holds the channel store sizing
type StoreConfig struct {
	Capacity     int `mapstructure:"capacity"`
	MaxChannels  int `mapstructure:"max_channels"`
	MonitorLines int `mapstructure:"monitor_lines"`
}

// StreamConfig controls the WebSocket snapshot stream
type StreamConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	MaxPoints int           `mapstructure:"max_points"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables.
// An explicit configFile must exist; without one a missing config.yaml is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("./internal/config")
		v.AddConfigPath("/etc/acquisition-service")
	}

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	SetDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// decode unmarshals and validates the current viper state
func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Serial defaults
	v.SetDefault("serial.driver", "bugst")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", "1")
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.flow_control", "none")
	v.SetDefault("serial.read_timeout", "100ms")
	v.SetDefault("serial.read_buffer_size", 256)
	v.SetDefault("serial.connect_timeout", "5s")

	// Decoder defaults
	v.SetDefault("decoder.framing", "text")
	v.SetDefault("decoder.field_separators", ", \t")
	v.SetDefault("decoder.delimiter", "\n")
	v.SetDefault("decoder.channel_naming", "named")
	v.SetDefault("decoder.max_pending", 4096)

	// Store defaults
	v.SetDefault("store.capacity", 4096)
	v.SetDefault("store.max_channels", 64)
	v.SetDefault("store.monitor_lines", 512)

	// Stream defaults
	v.SetDefault("stream.interval", "33ms")
	v.SetDefault("stream.max_points", 1024)

	// App defaults
	v.SetDefault("app.name", "acquisition-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	// Validate environment
	if !oneOf(config.App.Environment, "development", "staging", "production", "test") {
		return fmt.Errorf("app.environment must be one of: %v",
			[]string{"development", "staging", "production", "test"})
	}

	// Validate logging level
	if !oneOf(config.Logging.Level, ValidLogLevels...) {
		return fmt.Errorf("logging.level must be one of: %v", ValidLogLevels)
	}

	// Serial line
	if !oneOf(config.Serial.Driver, "bugst", "tarm") {
		return fmt.Errorf("serial.driver must be one of: [bugst tarm]")
	}
	if config.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}
	if config.Serial.DataBits < 5 || config.Serial.DataBits > 8 {
		return fmt.Errorf("serial.data_bits must be between 5 and 8")
	}
	if !oneOf(config.Serial.StopBits, "1", "1.5", "2") {
		return fmt.Errorf("serial.stop_bits must be one of: [1 1.5 2]")
	}
	if !oneOf(config.Serial.Parity, "none", "odd", "even", "mark", "space") {
		return fmt.Errorf("serial.parity must be one of: [none odd even mark space]")
	}
	if !oneOf(config.Serial.FlowControl, "none", "software", "hardware") {
		return fmt.Errorf("serial.flow_control must be one of: [none software hardware]")
	}
	if config.Serial.ReadBufferSize <= 0 {
		return fmt.Errorf("serial.read_buffer_size must be positive")
	}

	// Decoder
	if !oneOf(config.Decoder.Framing, "text", "binary") {
		return fmt.Errorf("decoder.framing must be one of: [text binary]")
	}
	if !oneOf(config.Decoder.ChannelNaming, "positional", "named", "header") {
		return fmt.Errorf("decoder.channel_naming must be one of: [positional named header]")
	}
	if config.Decoder.Delimiter == "" {
		return fmt.Errorf("decoder.delimiter is required")
	}
	if config.Decoder.FieldSeparators == "" {
		return fmt.Errorf("decoder.field_separators is required")
	}
	if config.Decoder.MaxPending <= 0 {
		return fmt.Errorf("decoder.max_pending must be positive")
	}

	// Store
	if config.Store.Capacity <= 0 {
		return fmt.Errorf("store.capacity must be positive")
	}
	if config.Store.MaxChannels <= 0 {
		return fmt.Errorf("store.max_channels must be positive")
	}
	if config.Store.MonitorLines < 0 {
		return fmt.Errorf("store.monitor_lines must not be negative")
	}

	if config.Stream.Interval <= 0 {
		return fmt.Errorf("stream.interval must be positive")
	}
	if config.Stream.MaxPoints <= 0 {
		return fmt.Errorf("stream.max_points must be positive")
	}

	return nil
}

// ValidLogLevels lists the accepted logging.level values
var ValidLogLevels = []string{"debug", "info", "warn", "error", "fatal"}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
