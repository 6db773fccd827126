package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultServer = "http://localhost:8080"

// credentials is what login leaves on disk.
type credentials struct {
	Server string `yaml:"server"`
	Email  string `yaml:"email,omitempty"`
	Token  string `yaml:"token,omitempty"`
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".wingctl.yaml"
	}
	return filepath.Join(dir, "wingwoman", "credentials.yaml")
}

// loadCredentials reads path. A missing file yields empty credentials.
func loadCredentials(path string) (credentials, error) {
	var creds credentials
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return creds, nil
	}
	if err != nil {
		return creds, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("failed to parse credentials %s: %w", path, err)
	}
	return creds, nil
}

func saveCredentials(path string, creds credentials) error {
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// resolveServer picks the --server flag, then the stored server, then the default.
func resolveServer(creds credentials) string {
	switch {
	case serverURL != "":
		return serverURL
	case creds.Server != "":
		return creds.Server
	default:
		return defaultServer
	}
}
