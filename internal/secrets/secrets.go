// Package secrets loads the exchange API key and secret from files named
// by environment variables, mirroring original_source/autotrade/settings/
// secrets.py's SECRET_KEY_PATH / API_KEY_PATH convention: the values
// themselves never live in the environment or in config files, only a
// pointer to where they're mounted (a Kubernetes secret volume, typically).
package secrets

import (
	"fmt"
	"os"
	"strings"
)

const (
	apiKeyPathEnv    = "API_KEY_PATH"
	secretKeyPathEnv = "SECRET_KEY_PATH"
)

// Credentials holds the exchange API key and secret read from disk.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Load reads both credential files named by API_KEY_PATH and
// SECRET_KEY_PATH, trimming surrounding whitespace the way the Python
// loader's f.read().strip() does.
func Load() (Credentials, error) {
	apiKey, err := readTrimmed(apiKeyPathEnv)
	if err != nil {
		return Credentials{}, fmt.Errorf("load api key: %w", err)
	}
	secretKey, err := readTrimmed(secretKeyPathEnv)
	if err != nil {
		return Credentials{}, fmt.Errorf("load secret key: %w", err)
	}
	return Credentials{APIKey: apiKey, SecretKey: secretKey}, nil
}

func readTrimmed(envVar string) (string, error) {
	path := os.Getenv(envVar)
	if path == "" {
		return "", fmt.Errorf("%s is not set", envVar)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s (%s): %w", envVar, path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
