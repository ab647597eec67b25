package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultPath = "./config.yaml"

// Load builds the configuration from env-default tags, an optional YAML file
// and the environment, later sources winning. The file is CONFIG_PATH when
// set, which must then exist, else ./config.yaml when present.
func Load() (*Config, error) {
	path, err := configFile()
	if err != nil {
		return nil, err
	}

	var cfg Config
	read := func() error { return cleanenv.ReadEnv(&cfg) }
	if path != "" {
		read = func() error { return cleanenv.ReadConfig(path, &cfg) }
	}
	if err := read(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", describe(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// configFile returns the YAML file to read, or "" for env and defaults only.
func configFile() (string, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config: file %s: %w", path, err)
		}
		return path, nil
	}
	if _, err := os.Stat(defaultPath); err != nil {
		return "", nil
	}
	return defaultPath, nil
}

func describe(path string) string {
	if path == "" {
		return "env"
	}
	return path
}
