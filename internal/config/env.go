package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/labforge/labctl/internal/logging"
)

// LoadEnv exports the variables of the first existing file among candidates
// into the process environment, overriding values already set. It returns
// the file used, or "" when none exists.
func LoadEnv(candidates ...string) (string, error) {
	for _, path := range candidates {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}

		vars, err := godotenv.Read(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		for k, v := range vars {
			if err := os.Setenv(k, v); err != nil {
				return "", fmt.Errorf("failed to set %s: %w", k, err)
			}
		}
		logging.Info("loaded environment file", "path", path, "vars", len(vars))
		return path, nil
	}
	logging.Debug(".env file not found", "candidates", candidates)
	return "", nil
}
