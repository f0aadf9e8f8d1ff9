package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

const DefaultPath = "config.yml"

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	return decoder.Decode(cfg)
}

func readEnv(cfg *Configuration) error {
	if err := envconfig.Process("", cfg); err != nil {
		return err
	}
	// secrets per chain, e.g. ETHEREUM_PRIVATE_KEY_PASSWORD
	for key, bc := range cfg.Blockchains {
		if v, ok := os.LookupEnv(strings.ToUpper(key) + "_PRIVATE_KEY_PASSWORD"); ok {
			bc.PrivateKeyPassword = v
			cfg.Blockchains[key] = bc
		}
	}
	return nil
}

// Load reads the yaml file at path, overlays the environment and validates
// the result. Reading config errors are fatal for the caller.
func Load(path string) (*Configuration, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := &Configuration{}
	if err := readFile(path, cfg); err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	if err := readEnv(cfg); err != nil {
		return nil, fmt.Errorf("cannot read config from environment: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
