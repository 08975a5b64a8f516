package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const configEnv = "POTWATCH_CONFIG"

// Config is the potwatch YAML file. Command line flags override it.
type Config struct {
	Server      string        `yaml:"server"`
	Token       string        `yaml:"token"`
	Flower      string        `yaml:"flower"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
}

// LoadConfig reads path, or $POTWATCH_CONFIG when path is empty. No file at
// all yields an empty config.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		return Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
