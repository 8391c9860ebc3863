package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fystack/keyspace/pkg/logger"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Environment string         `mapstructure:"environment" json:"environment"`
	Debug       bool           `mapstructure:"debug" json:"debug"`
	Store       *StoreConfig   `mapstructure:"store" json:"store"`
	Retry       *RetryConfig   `mapstructure:"retry" json:"retry"`
	Badger      *BadgerConfig  `mapstructure:"badger" json:"badger"`
	Monitor     *MonitorConfig `mapstructure:"monitor" json:"monitor"`
}

type StoreConfig struct {
	Address       string `mapstructure:"address" json:"address"`
	Prefix        string `mapstructure:"prefix" json:"prefix"`
	PubSub        bool   `mapstructure:"pubsub" json:"pubsub"`
	MessageBuffer int    `mapstructure:"message_buffer" json:"message_buffer"`
}

type RetryConfig struct {
	Attempts     uint          `mapstructure:"attempts" json:"attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" json:"max_delay"`
	MaxElapsed   time.Duration `mapstructure:"max_elapsed" json:"max_elapsed"`
}

type BadgerConfig struct {
	Password   string `mapstructure:"password" json:"password"`
	SyncWrites bool   `mapstructure:"sync_writes" json:"sync_writes"`
}

type MonitorConfig struct {
	Listen string `mapstructure:"listen" json:"listen"`
}

// MarshalJSONMask renders the config with secrets replaced by asterisks.
func (c AppConfig) MarshalJSONMask() string {
	if c.Badger != nil {
		badger := *c.Badger
		badger.Password = strings.Repeat("*", len(badger.Password))
		c.Badger = &badger
	}
	if c.Store != nil {
		store := *c.Store
		store.Address = maskAddress(store.Address)
		c.Store = &store
	}

	bytes, err := json.Marshal(c)
	if err != nil {
		logger.Error("Failed to marshal app config", err)
	}
	return string(bytes)
}

func maskAddress(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.User == nil {
		return address
	}
	if password, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), strings.Repeat("*", len(password)))
	}
	return u.String()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("store.address", "redis://localhost:6379/0")
	v.SetDefault("store.prefix", "")
	v.SetDefault("store.pubsub", false)
	v.SetDefault("store.message_buffer", 128)
	v.SetDefault("retry.attempts", 10)
	v.SetDefault("retry.initial_delay", "100ms")
	v.SetDefault("retry.max_delay", "2s")
	v.SetDefault("retry.max_elapsed", "30s")
	v.SetDefault("badger.password", "")
	v.SetDefault("badger.sync_writes", false)
	v.SetDefault("monitor.listen", ":9090")
}

// InitViperConfig loads defaults, the optional config file at path (or
// ./config.yaml when path is empty) and KEYSPACE_* environment overrides
// into the global viper instance.
func InitViperConfig(path string) error {
	v := viper.GetViper()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("keyspace")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Debug("No config file found, using defaults and environment")
		return nil
	}

	logger.Info("Reading config file", "path", v.ConfigFileUsed())
	return nil
}

// LoadConfig decodes the global viper settings into an AppConfig.
func LoadConfig() (*AppConfig, error) {
	return Decode(viper.AllSettings())
}

func Decode(settings map[string]interface{}) (*AppConfig, error) {
	var config AppConfig
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           &config,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("create config decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if config.Store == nil {
		config.Store = &StoreConfig{}
	}
	if config.Retry == nil {
		config.Retry = &RetryConfig{}
	}
	if config.Badger == nil {
		config.Badger = &BadgerConfig{}
	}
	if config.Monitor == nil {
		config.Monitor = &MonitorConfig{}
	}
	return &config, nil
}
