// Package config loads settings configuration with viper and wires a ready
// to use Settings instance from it.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/goliatone/go-settings/pkg/activity"
	"github.com/goliatone/go-settings/pkg/logging"
	"github.com/goliatone/go-settings/pkg/repository"
)

// EnvPrefix prefixes environment overrides, e.g. SETTINGS_ENCRYPTION_KEY or
// SETTINGS_LOG_LEVEL.
const EnvPrefix = "SETTINGS"

// Config aggregates the settings configuration. Each nested block is owned
// by its respective package.
type Config struct {
	Default       string                    `mapstructure:"default"`
	Cache         bool                      `mapstructure:"cache"`
	Prefix        string                    `mapstructure:"prefix"`
	Encryption    bool                      `mapstructure:"encryption"`
	EncryptionKey string                    `mapstructure:"encryption_key"`
	Events        bool                      `mapstructure:"events"`
	Repositories  map[string]map[string]any `mapstructure:"repositories"`
	Override      OverrideConfig            `mapstructure:"override"`
	Activity      activity.Config           `mapstructure:"activity"`
	Log           logging.Config            `mapstructure:"log"`
}

// OverrideConfig lists the config keys replaced by stored settings at
// startup. Rules accepts every form understood by override.ParseRules;
// Engine selects the guard language (expr, cel or js). ApplyTimezone points
// time.Local at the zone written to any of TimezoneKeys, which defaults to
// app.timezone.
type OverrideConfig struct {
	Engine        string   `mapstructure:"engine"`
	SkipMissing   bool     `mapstructure:"skip_missing"`
	ApplyTimezone bool     `mapstructure:"apply_timezone"`
	TimezoneKeys  []string `mapstructure:"timezone_keys"`
	Rules         any      `mapstructure:"rules"`
}

// FactoryConfig returns the repository factory block.
func (c *Config) FactoryConfig() repository.FactoryConfig {
	return repository.FactoryConfig{Default: c.Default, Repositories: c.Repositories}
}

// DefaultConfig mirrors the stock settings configuration: a sqlite backed
// database repository with cache, encryption and events enabled.
func DefaultConfig() *Config {
	return &Config{
		Default:    repository.DriverDatabase,
		Cache:      true,
		Prefix:     "settings.",
		Encryption: true,
		Events:     true,
		Repositories: map[string]map[string]any{
			repository.DriverDatabase: {
				"driver":       repository.DriverDatabase,
				"dialect":      repository.DialectSQLite,
				"dsn":          "settings.db",
				"table":        repository.DefaultTable,
				"ensure_table": true,
			},
		},
		Override: OverrideConfig{Engine: "expr"},
		Activity: activity.Config{Channel: activity.DefaultChannel},
		Log:      logging.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from path (or ./settings.yaml when path is empty
// and the file exists) and from environment variables. Keys map to
// variables by upper casing, prefixing with SETTINGS and replacing dots with
// underscores: "log.level" becomes "SETTINGS_LOG_LEVEL".
func Load(path string) (*Config, *viper.Viper, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, v, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("default", cfg.Default)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("prefix", cfg.Prefix)
	v.SetDefault("encryption", cfg.Encryption)
	v.SetDefault("events", cfg.Events)
	v.SetDefault("override.engine", cfg.Override.Engine)
	v.SetDefault("override.apply_timezone", cfg.Override.ApplyTimezone)
	v.SetDefault("activity.channel", cfg.Activity.Channel)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	for name, block := range cfg.Repositories {
		for key, value := range block {
			v.SetDefault("repositories."+name+"."+key, value)
		}
	}
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		switch f.Type.Kind() {
		case reflect.Struct:
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		case reflect.Map:
			// map entries are dynamic; binding the parent would shadow them
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
