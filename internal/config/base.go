package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type BaseConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log      LogConfig      `mapstructure:"log"      yaml:"log"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Remote   RemoteConfig   `mapstructure:"remote"   yaml:"remote"`
	Local    LocalConfig    `mapstructure:"local"    yaml:"local"`
	Matching MatchingConfig `mapstructure:"matching" yaml:"matching"`
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
}

// DatabaseConfig holds catalog store configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RemoteConfig holds the SFTP endpoint and report discovery settings
type RemoteConfig struct {
	Host           string   `mapstructure:"host"             yaml:"host"`
	Port           int      `mapstructure:"port"             yaml:"port"`
	Username       string   `mapstructure:"username"         yaml:"username"`
	Password       string   `mapstructure:"password"         yaml:"password"`
	PrivateKeyPath string   `mapstructure:"private_key_path" yaml:"private_key_path"`
	ReportDir      string   `mapstructure:"report_dir"       yaml:"report_dir"`
	Timeout        string   `mapstructure:"timeout"          yaml:"timeout"`
	Patterns       []string `mapstructure:"patterns"         yaml:"patterns"`
}

// LocalConfig holds the local download layout
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// MatchingConfig bounds the gateway reconciliation loop
type MatchingConfig struct {
	MaxAttempts   int    `mapstructure:"max_attempts"    yaml:"max_attempts"`
	GatewayURL    string `mapstructure:"gateway_url"     yaml:"gateway_url"`
	GatewayAPIKey string `mapstructure:"gateway_api_key" yaml:"gateway_api_key"`
	Timeout       string `mapstructure:"timeout"         yaml:"timeout"`
}

// RecoveryConfig controls staleness-based repair
type RecoveryConfig struct {
	StaleAfter string `mapstructure:"stale_after" yaml:"stale_after"`
}

// PipelineConfig controls batch execution
type PipelineConfig struct {
	Workers     int    `mapstructure:"workers"      yaml:"workers"`
	Pause       string `mapstructure:"pause"        yaml:"pause"`
	FileTimeout string `mapstructure:"file_timeout" yaml:"file_timeout"`
	Interval    string `mapstructure:"interval"     yaml:"interval"`
}

func LoadConfig() (*BaseConfig, error) {
	cfg := &BaseConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// Duration parses a duration string, falling back to the provided default
// when the value is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
