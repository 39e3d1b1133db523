package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Version is stamped at build time with -ldflags "-X simjur/internal/app.Version=...".
var Version = "dev"

// Environment variables read by simjur.
const (
	EnvConfigPath  = "SIMJUR_CONFIG_PATH"
	EnvHome        = "SIMJUR_HOME"
	EnvSecretKey   = "SIMJUR_SECRET_KEY"
	EnvSendGridKey = "SIMJUR_SENDGRID_API_KEY"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SIMJUR_CONFIG_PATH: config file location (default: ~/.config/simjur.toml)
//   - SIMJUR_HOME: base directory for simjur data (default: ~/.local/share/simjur)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "simjur.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv(EnvHome); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "simjur"), nil
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped and variables that are already set win.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("checking %s: %w", p, err)
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

// SecretKey returns the token signing secret.
func SecretKey() (string, error) {
	key := os.Getenv(EnvSecretKey)
	if key == "" {
		return "", fmt.Errorf("%s is not set", EnvSecretKey)
	}
	if len(key) < 32 {
		return "", fmt.Errorf("%s must be at least 32 characters", EnvSecretKey)
	}
	return key, nil
}

// SendGridKey returns the SendGrid API key, or "" when e-mail is disabled.
func SendGridKey() string {
	return os.Getenv(EnvSendGridKey)
}
