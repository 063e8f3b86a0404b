package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"detectedits-go/internal/config"
)

// Environment variables read by the application.
const (
	EnvConfigPath      = "DETECTEDITS_CONFIG_PATH"
	EnvHome            = "DETECTEDITS_HOME"
	EnvServicePassword = config.EnvServicePassword
	EnvSMTPPassword    = "DETECTEDITS_SMTP_PASSWORD"
	EnvPassphrase      = "DETECTEDITS_PASSPHRASE"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DETECTEDITS_CONFIG_PATH: config file location (default: ~/.config/detectedits.json)
//   - DETECTEDITS_HOME: base directory for job state (default: ~/.local/share/detectedits)
func GetDefaults() (map[string]string, error) {
	home, err := os.UserHomeDir()
	if err != nil && (os.Getenv(EnvConfigPath) == "" || os.Getenv(EnvHome) == "") {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	configPath := envOr(EnvConfigPath, filepath.Join(home, ".config", "detectedits.json"))
	baseDir := envOr(EnvHome, filepath.Join(home, ".local", "share", "detectedits"))

	return map[string]string{
		"config_path":  configPath,
		"base_dir":     baseDir,
		"log_dir":      filepath.Join(baseDir, "log"),
		"artifact_dir": filepath.Join(baseDir, "errors"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadEnv loads .env from the working directory and then from baseDir.
// Variables already set are never overridden and missing files are skipped.
func LoadEnv(baseDir string) error {
	for _, path := range []string{".env", filepath.Join(baseDir, ".env")} {
		err := godotenv.Load(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
