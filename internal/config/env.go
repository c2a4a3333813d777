package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads a dotenv file into the process environment.
// Variables that are already set keep their values.
// A missing file is only an error when it was requested explicitly.
func LoadEnvFile(path string) error {
	explicit := path != "" && path != DefaultEnvFilename
	if path == "" {
		path = DefaultEnvFilename
	}

	path = filepath.Clean(path)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}

		return fmt.Errorf("stat env file: %w", err)
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	return nil
}
