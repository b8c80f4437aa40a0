package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the file locations and settings of the alarm agent.
type Config struct {
	// AlarmsFile is the path of the persisted recurring-alarm JSON file.
	AlarmsFile string `yaml:"alarms_file"`
	// DeviceKeyFile is the path of the base64 device key standing in for the
	// platform keystore.
	DeviceKeyFile string `yaml:"device_key_file"`
	// KeyringFile is the path of the push-channel wrapped key mapping.
	KeyringFile string `yaml:"keyring_file"`
	// LogLevel is the minimum level emitted by the agent ("debug".."fatal").
	LogLevel string `yaml:"log_level"`
	// ReArmSchedule is the cron specification the run command uses to refresh
	// host alarm registrations.
	ReArmSchedule string `yaml:"rearm_schedule"`
}

const (
	// DefaultConfigFilename is the default filename for agent settings.
	DefaultConfigFilename = "alarm-agent-settings.yaml"

	// DefaultAlarmsFilename is the default filename for the recurring-alarm set.
	DefaultAlarmsFilename = "alarm-agent-recurring.json"

	// DefaultDeviceKeyFilename is the default filename for the device key.
	DefaultDeviceKeyFilename = "alarm-agent-device.key"

	// DefaultKeyringFilename is the default filename for the push-channel keyring.
	DefaultKeyringFilename = "alarm-agent-keyring.yaml"

	// DefaultLogLevel is the default minimum log level.
	DefaultLogLevel = "info"

	// DefaultReArmSchedule re-arms persisted alarms once an hour.
	DefaultReArmSchedule = "@hourly"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// errConfigIsNotSet is returned when a nil configuration is provided.
var errConfigIsNotSet = errors.New("configuration is not set")

// Default returns a configuration populated with package defaults.
func Default() *Config {
	cfg := new(Config)
	applyDefaults(cfg)

	return cfg
}

// Load reads configuration from the provided path. A missing file yields the
// defaults so a fresh install works without any setup.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file references key material locations.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults for empty fields and rejects unusable values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("unknown log level: %q", cfg.LogLevel)
	}

	return nil
}

// applyDefaults fills empty fields with package defaults.
func applyDefaults(cfg *Config) {
	if cfg.AlarmsFile == "" {
		cfg.AlarmsFile = DefaultAlarmsFilename
	}

	if cfg.DeviceKeyFile == "" {
		cfg.DeviceKeyFile = DefaultDeviceKeyFilename
	}

	if cfg.KeyringFile == "" {
		cfg.KeyringFile = DefaultKeyringFilename
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if cfg.ReArmSchedule == "" {
		cfg.ReArmSchedule = DefaultReArmSchedule
	}
}
