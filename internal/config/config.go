package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Option func(v *viper.Viper)

// WithEnvPrefix only reads environment variables starting with prefix + "_".
func WithEnvPrefix(prefix string) Option {
	return func(v *viper.Viper) {
		v.SetEnvPrefix(prefix)
	}
}

// Load config into the config struct, config must be a pointer to the config struct.
// Values already set in config are defaults, the file (when not empty) overrides them,
// and environment variables override both, with "." replaced by "_" in key names.
func Load(file string, config any, opts ...Option) error {
	v := viper.New()

	if err := setDefaults(v, "", config); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	for _, opt := range opts {
		opt(v)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}

// setDefaults registers every leaf of value as a default, so that viper knows
// the nested keys environment variables may override.
func setDefaults(v *viper.Viper, prefix string, value any) error {
	m := make(map[string]any)
	if err := mapstructure.Decode(value, &m); err != nil {
		return err
	}

	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}

		if isNested(val) {
			if err := setDefaults(v, key, val); err != nil {
				return err
			}
			continue
		}

		v.SetDefault(key, val)
	}

	return nil
}

func isNested(val any) bool {
	if _, ok := val.(time.Time); ok {
		return false
	}

	rv := reflect.ValueOf(val)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}
