// Package config loads the process configuration.
//
// Values come from, in increasing priority: built-in defaults, a config file
// (YAML, TOML or JSON; mongoconfigs.* in the working directory unless a
// path is given), a .env file and the environment. Environment variables use
// the prefix MONGOCONFIGS and underscores for dots, so cache.ttl of the
// message section is MONGOCONFIGS_MESSAGE_CACHE_TTL.
package config

import (
	"errors"
	"io/fs"
	"reflect"
	"strings"

	"github.com/dailyyoga/mongoconfigs/configs"
	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/store/mongostore"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "MONGOCONFIGS"

// Config aggregates the configuration of every package.
// The engine sections sit at the top level next to log and mongo.
type Config struct {
	Log            *logger.Config     `mapstructure:"log"`
	Mongo          *mongostore.Config `mapstructure:"mongo"`
	configs.Config `mapstructure:",squash"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Log:    logger.DefaultConfig(),
		Mongo:  mongostore.DefaultConfig(),
		Config: *configs.DefaultConfig(),
	}
}

// MergeDefaults fills nil sections and zero fields with their default values
func (c *Config) MergeDefaults() {
	if c.Log == nil {
		c.Log = logger.DefaultConfig()
	}
	if c.Mongo == nil {
		c.Mongo = mongostore.DefaultConfig()
	}
	c.Log.MergeDefaults()
	c.Mongo.MergeDefaults()
	c.Config.MergeDefaults()
}

// Validate validates every section
func (c *Config) Validate() error {
	if c.Log == nil || c.Mongo == nil {
		return configs.ErrMissingSection
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Mongo.Validate(); err != nil {
		return err
	}
	return c.Config.Validate()
}

// Load reads the configuration. path names a config file; empty looks for an optional
// mongoconfigs.{yaml,toml,json} in the working directory. A .env file in the working
// directory is loaded into the environment first without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ErrEnvFile(err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mongoconfigs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	bindEnvs(v, reflect.TypeOf(cfg))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, ErrReadFile(path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, ErrDecode(err)
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers every leaf key of t so that AutomaticEnv sees keys absent from the file
func bindEnvs(v *viper.Viper, t reflect.Type, parts ...string) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")
		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}

		if opts == "squash" {
			bindEnvs(v, ft, parts...)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), name)
		if ft.Kind() == reflect.Struct && ft.PkgPath() != "time" {
			bindEnvs(v, ft, key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
