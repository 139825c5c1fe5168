package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "RBDSNAP_"

var errReadBytes = errors.New("config: map provider has no byte form")

// mapProvider feeds a nested map into koanf
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) { return nil, errReadBytes }
func (m mapProvider) Read() (map[string]any, error) { return m, nil }

// Loader layers configuration sources. Later sources override earlier ones:
// defaults, YAML file, environment, then explicit overrides (flags).
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	environ   func() []string
}

type LoaderOption func(*Loader)

func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithFile adds a YAML file; an empty path is skipped.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.filePath = path }
}

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: EnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// envKey maps RBDSNAP_STORE__REDIS__ADDR to store.redis.addr.
// A double underscore nests, a single one stays part of the key (dry_run).
func (l *Loader) envKey(s string) string {
	s = strings.TrimPrefix(s, l.envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Load reads defaults, file and environment. Overrides set afterwards with
// Set win over all of them.
func (l *Loader) Load() error {
	if err := l.k.Load(mapProvider(defaults()), nil); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// Set overrides one dotted key.
func (l *Loader) Set(key string, value any) error {
	return l.k.Set(key, value)
}

// Config unmarshals the merged sources.
func (l *Loader) Config() (*Config, error) {
	var cfg Config
	conf := koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
		},
	}
	if err := l.k.UnmarshalWithConf("", &cfg, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
