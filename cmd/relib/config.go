package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// config maps short store aliases to backend URLs, so commands can say
// "relib inspect prod" instead of spelling out an s3 URL.
type config struct {
	Stores map[string]string `yaml:"stores"`
}

// loadConfig reads the YAML config at path, falling back to
// <user config dir>/relib.yaml. A missing file is an empty config.
func loadConfig(path string) (*config, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return &config{}, nil
		}
		path = filepath.Join(dir, "relib.yaml")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// resolve maps an alias to its URL; anything not in the config is taken
// to be a URL already.
func (c *config) resolve(arg string) string {
	if u, ok := c.Stores[arg]; ok {
		return u
	}
	return arg
}
