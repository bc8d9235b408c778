// Package config holds the agent and relay configuration and loads it from
// flags, a config file and the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"collabtext/internal/bridge"
	"collabtext/internal/engine"
	"collabtext/internal/log"
	"collabtext/internal/trash"
)

// EnvPrefix prefixes every environment variable, e.g. COLLABTEXT_FLUSH_DELAY.
const EnvPrefix = "COLLABTEXT"

// Mdns as the agent hostname resolves the relay on the local network.
const Mdns = "mdns"

type AgentConfig struct {
	ConfigFile string `mapstructure:"config"`
	// Root is the workspace folder. Empty means no folder is open.
	Root string `mapstructure:"root"`
	// Listen is the address the local editor endpoint is served on.
	Listen string `mapstructure:"listen"`
	// Join joins a room as soon as the agent starts.
	Join     bool   `mapstructure:"join"`
	State    string `mapstructure:"state"`
	TrashDir string `mapstructure:"trash-dir"`

	Sync   engine.Config `mapstructure:",squash"`
	Bridge bridge.Config `mapstructure:",squash"`
	Log    log.Config    `mapstructure:",squash"`
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Listen:   "localhost:8080",
		State:    "collabtext.db",
		TrashDir: trash.DefaultDir,
		Sync:     engine.DefaultConfig(),
		Bridge:   bridge.DefaultConfig(),
		Log:      log.DefaultConfig(),
	}
}

type ServerConfig struct {
	ConfigFile string `mapstructure:"config"`
	Listen     string `mapstructure:"listen"`
	// RedisAddr selects the redis broker. Rooms are kept in process when empty.
	RedisAddr string `mapstructure:"redis-addr"`
	// DatabaseURL enables the postgres room journal.
	DatabaseURL string `mapstructure:"database-url"`
	// Advertise announces the relay over mDNS.
	Advertise bool `mapstructure:"advertise"`

	Log log.Config `mapstructure:",squash"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen: ":8081",
		Log:    log.DefaultConfig(),
	}
}

// unprefixed lists environment variables honoured without EnvPrefix.
var unprefixed = map[string]string{
	"redis-addr":   "REDIS_ADDR",
	"database-url": "DATABASE_URL",
}

// SetDefaults registers every key of conf with v so that environment
// variables are picked up for keys that have no flag.
func SetDefaults(v *viper.Viper, conf any) error {
	values := map[string]any{}
	if err := mapstructure.Decode(conf, &values); err != nil {
		return fmt.Errorf("flatten defaults: %w", err)
	}
	for key, value := range values {
		v.SetDefault(key, value)
	}
	return nil
}

// Load decodes the file at path, if any, the environment and everything
// already bound to v into conf.
func Load(v *viper.Viper, path string, conf any) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, env := range unprefixed {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), env); err != nil {
			return err
		}
	}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(conf, viper.DecodeHook(hook)); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
