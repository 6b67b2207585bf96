package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file. If path is empty it
// searches the default locations; when no file exists at all the defaults
// alone are returned.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		for _, candidate := range []string{"minisys.yaml", "minisys.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			cfg := applyDefaults(Config{})
			return &cfg, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			cfg := applyDefaults(Config{})
			return &cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg = applyDefaults(cfg)
	return &cfg, nil
}
