package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon's on-disk configuration. Secrets never live here;
// they are injected from the environment by the caller.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	GatewayConfig string `toml:"GatewayConfig"`
	Limits        Limits `toml:"Limits"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vsd-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	cfg.Limits.applyDefaults()
	if err := ValidateLimits(cfg.Limits); err != nil {
		return nil, err
	}

	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./vsd-data",
		Environment:   "dev",
		GatewayConfig: "",
	}
	cfg.Limits.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
