package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittostore configuration file
#
# Every value can be overridden with an environment variable using the
# DITTOSTORE_ prefix, e.g. DITTOSTORE_LOGGING_LEVEL=DEBUG.
#
# Each entry under "storages" is a named storage. "type" selects the backend
# (memory, filesystem, s3, sql, badger) and the section of the same name
# holds its options.

`

// GenerateYAML renders cfg as a commented YAML document.
func GenerateYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories as needed. An existing file is overwritten.
func WriteDefault(path string) error {
	data, err := GenerateYAML(GetDefaultConfig())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfigToPath writes the default configuration to path. It refuses to
// replace an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	return WriteDefault(path)
}

// InitConfig writes the default configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}
