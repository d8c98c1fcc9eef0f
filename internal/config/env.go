package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ApplyEnvOverlay loads a .env file alongside configPath (if present) and
// lets WHISPERLISTEN_API_URL / WHISPERLISTEN_API_TOKEN override the file's
// values, matching the original agent's environment-first credential
// handling without requiring secrets to live in the YAML file.
func ApplyEnvOverlay(cfg Config, configPath string) Config {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if vars, err := godotenv.Read(envPath); err == nil {
		applyEnvMap(&cfg, vars)
	}
	applyEnvMap(&cfg, processEnv())
	return cfg
}

func processEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

func applyEnvMap(cfg *Config, vars map[string]string) {
	if v := strings.TrimSpace(vars["WHISPERLISTEN_API_URL"]); v != "" {
		cfg.API.URL = v
	}
	if v := strings.TrimSpace(vars["WHISPERLISTEN_API_TOKEN"]); v != "" {
		cfg.API.Token = v
	}
}
