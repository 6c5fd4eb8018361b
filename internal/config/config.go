package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Upstream UpstreamConfig `mapstructure:"upstream" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"  validate:"required"`
	Poll     PollConfig     `mapstructure:"poll"     validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// UpstreamConfig contains the settings for the remote generation API.
type UpstreamConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	APIKey  string `mapstructure:"api_key"  validate:"required"`
	// TimeoutSeconds bounds every outbound call to the upstream API.
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"required,gt=0,lte=120"`
}

// StorageConfig contains local asset storage settings.
type StorageConfig struct {
	// AudioDir is the root under which one subdirectory per task is created.
	AudioDir string `mapstructure:"audio_dir" validate:"required"`
}

// PollConfig contains the poll scheduler settings.
type PollConfig struct {
	// IntervalSeconds is the fixed cadence between status polls for a task.
	IntervalSeconds int `mapstructure:"interval_seconds" validate:"required,gt=0"`
	// MaxAttempts bounds the total polls per task before giving up.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`
}
