// Package config loads the node configuration.
//
// Values are resolved in this order, later ones winning:
//
//	defaults < YAML file < ENCLAVE_* environment < command line flags
//
// Flags are applied by the binaries.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the node configuration. SealingKey is hex; when set, blobs are
// AES-SIV sealed in software before they reach the storage backends.
type Config struct {
	ListenAddr   string   `yaml:"listen_addr"`
	MetricsAddr  string   `yaml:"metrics_addr"`
	Bech32Prefix string   `yaml:"bech32_prefix"`
	SealingURIs  []string `yaml:"sealing_uris"`
	SealingKey   string   `yaml:"sealing_key"`
	Attestation  string   `yaml:"attestation"`
	Engine       string   `yaml:"engine"`
}

func Default() Config {
	return Config{
		ListenAddr:   "127.0.0.1:8080",
		MetricsAddr:  "127.0.0.1:8090",
		Bech32Prefix: "secret",
		SealingURIs:  []string{"file://./sealed"},
		Attestation:  "dummy",
		Engine:       "extism",
	}
}

// Load reads path, if given, over the defaults and applies environment
// overrides. A missing file is an error, an empty path is not.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		Merge(&cfg, parsed)
	}

	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Merge copies the set fields of src over dst.
func Merge(dst *Config, src Config) {
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.Bech32Prefix != "" {
		dst.Bech32Prefix = src.Bech32Prefix
	}
	if src.SealingURIs != nil {
		dst.SealingURIs = src.SealingURIs
	}
	if src.SealingKey != "" {
		dst.SealingKey = src.SealingKey
	}
	if src.Attestation != "" {
		dst.Attestation = src.Attestation
	}
	if src.Engine != "" {
		dst.Engine = src.Engine
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := env("ENCLAVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := env("ENCLAVE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := env("ENCLAVE_BECH32_PREFIX"); v != "" {
		cfg.Bech32Prefix = v
	}
	// comma separated
	if v := env("ENCLAVE_SEALING_URIS"); v != "" {
		var uris []string
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				uris = append(uris, u)
			}
		}
		cfg.SealingURIs = uris
	}
	if v := env("ENCLAVE_SEALING_KEY"); v != "" {
		cfg.SealingKey = v
	}
	if v := env("ENCLAVE_ATTESTATION"); v != "" {
		cfg.Attestation = v
	}
	if v := env("ENCLAVE_ENGINE"); v != "" {
		cfg.Engine = v
	}
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func (c Config) Validate() error {
	if len(c.SealingURIs) == 0 {
		return fmt.Errorf("%w: at least one sealing uri is required", ErrInvalidConfig)
	}
	if c.SealingKey != "" {
		if _, err := c.SealingKeyBytes(); err != nil {
			return err
		}
	}
	if c.Engine != "extism" {
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, c.Engine)
	}
	return nil
}

// SealingKeyBytes decodes SealingKey. It returns nil when no key is set.
func (c Config) SealingKeyBytes() ([]byte, error) {
	if c.SealingKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(c.SealingKey, "0x"))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("%w: sealing_key must be 32 hex encoded bytes", ErrInvalidConfig)
	}
	return key, nil
}
