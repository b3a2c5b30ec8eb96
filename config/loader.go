package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/filip-herceg/ReViewPoint-sub010/errors"
)

// envPrefix namespaces the environment overrides for this subsystem.
const envPrefix = "RVP_"

// Load reads configuration from an optional YAML file, then applies
// environment overrides on top of the defaults.
//
// Precedence, highest first:
//  1. Environment variables with the RVP_ prefix
//  2. YAML file (when path is non-empty)
//  3. DefaultConfig
//
// Environment variables map the remainder after the prefix to dotted keys:
// RVP_ENDPOINT_URL -> endpoint.url, RVP_HEARTBEAT_INTERVAL ->
// heartbeat.interval, RVP_RATE_LIMIT_MESSAGES -> rate_limit.messages.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw []byte
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		raw = content
	}

	cfg, err := LoadBytes(raw, cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadBytes merges YAML bytes and environment overrides into base. Nil or
// empty bytes skip the YAML layer.
func LoadBytes(raw []byte, base Config) (Config, error) {
	k := koanf.New(".")

	if len(raw) > 0 {
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return Config{}, errors.WrapInvalid(err, "config", "LoadBytes", "parse yaml")
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyTransform), nil); err != nil {
		return Config{}, errors.WrapInvalid(err, "config", "LoadBytes", "load environment overrides")
	}

	cfg := base
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.WrapInvalid(err, "config", "LoadBytes", "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKeyTransform maps an RVP_ environment variable to a dotted config key.
// The first underscore splits section from field, except for the RATE_LIMIT
// section, whose name itself contains one.
func envKeyTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

	if rest, ok := strings.CutPrefix(lower, "rate_limit_"); ok {
		return "rate_limit." + rest
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
