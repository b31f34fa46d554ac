// Package config loads command line settings from an optional YAML file and
// ENTITYPLAN_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "ENTITYPLAN_"

type Config struct {
	Log    Log    `koanf:"log"`
	Schema Schema `koanf:"schema"`
	Otel   Otel   `koanf:"otel"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

type Schema struct {
	Namer       string `koanf:"namer"` // camel, snake or none
	IDArguments bool   `koanf:"id_arguments"`
}

type Otel struct {
	Endpoint string `koanf:"endpoint"`
	Service  string `koanf:"service"`
}

var defaults = map[string]any{
	"log.level":           "info",
	"log.format":          "console",
	"schema.namer":        "camel",
	"schema.id_arguments": false,
	"otel.service":        "entityplan",
}

// Load reads path, if not empty, over the defaults, then the environment.
// ENTITYPLAN_SCHEMA_ID_ARGUMENTS sets schema.id_arguments: the first
// underscore after the prefix separates the section from the key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}
