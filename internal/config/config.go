package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/plugctl/internal/logger"
)

// Settings holds the optional tuning knobs shared by plugctl invocations.
type Settings struct {
	// EnvFile is the dotenv file that provides DEVICE_LIST.
	EnvFile string `yaml:"env_file"`
	// Timeout bounds device discovery and every call to the device.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is the minimum level written to stderr.
	LogLevel string `yaml:"log_level"`
	// Output selects how the status is rendered: text or json.
	Output string `yaml:"output"`
	// StrictExit makes device and configuration failures exit non-zero.
	StrictExit bool `yaml:"strict_exit"`
}

const (
	// DefaultSettingsFilename is the default filename for settings.
	DefaultSettingsFilename = "plugctl-settings.yaml"

	// DefaultEnvFilename is the default dotenv file.
	DefaultEnvFilename = ".env"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 10 * time.Second

	// DefaultLogLevel keeps the console quiet unless something fails.
	DefaultLogLevel = "warn"

	// OutputText renders the status as plain text.
	OutputText = "text"
	// OutputJSON renders the status as a JSON document.
	OutputJSON = "json"
)

var (
	// errSettingsAreNotSet is returned when nil settings are provided.
	errSettingsAreNotSet = errors.New("settings are not set")
	// errUnknownOutput is returned for an unsupported output format.
	errUnknownOutput = errors.New("unknown output format")
	// errUnknownLogLevel is returned for an unsupported log level.
	errUnknownLogLevel = errors.New("unknown log level")
)

// LoadSettings reads settings from the provided path and fills defaults.
// A missing file at the default location yields default settings.
func LoadSettings(path string) (*Settings, error) {
	explicit := path != "" && path != DefaultSettingsFilename
	if path == "" {
		path = DefaultSettingsFilename
	}

	var settings Settings

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, &settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = ValidateSettings(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// ValidateSettings fills defaults and rejects unsupported values.
func ValidateSettings(settings *Settings) error {
	if settings == nil {
		return errSettingsAreNotSet
	}

	if settings.EnvFile == "" {
		settings.EnvFile = DefaultEnvFilename
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, settings.LogLevel)
	}

	switch settings.Output {
	case "":
		settings.Output = OutputText
	case OutputText, OutputJSON:
	default:
		return fmt.Errorf("%w: %q", errUnknownOutput, settings.Output)
	}

	return nil
}
