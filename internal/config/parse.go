package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parse decodes YAML configuration content onto base, leaving any field the
// document does not mention at its base value.
func Parse(content []byte, base Config) (Config, []Warning, error) {
	cfg := base
	if len(content) > 0 {
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("decode yaml: %w", err)
		}
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}
