package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DispatcherConfig tunes the workflow dispatcher. It can be changed at
// runtime through config/dispatcher.yaml.
type DispatcherConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
}

type DispatcherConfigHolder struct {
	current atomic.Value // holds DispatcherConfig
}

// NewDispatcherConfigHolder seeds the holder from env defaults and overlays
// the optional dispatcher.yaml, watching it for changes.
func NewDispatcherConfigHolder(cfg Config, log *zap.Logger) (*DispatcherConfigHolder, error) {
	holder := &DispatcherConfigHolder{}
	if err := validateDispatcherConfig(cfg.Dispatcher); err != nil {
		return nil, err
	}
	holder.current.Store(cfg.Dispatcher)

	v := viper.New()
	v.SetConfigName("dispatcher")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/clientflow")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("CLIENTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("dispatcher.max_concurrency", cfg.Dispatcher.MaxConcurrency)
	v.SetDefault("dispatcher.task_timeout", cfg.Dispatcher.TaskTimeout)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return holder, nil
		}
		return nil, err
	}

	var fromFile DispatcherConfig
	if err := v.UnmarshalKey("dispatcher", &fromFile); err != nil {
		return nil, err
	}
	if err := validateDispatcherConfig(fromFile); err != nil {
		return nil, err
	}
	holder.current.Store(fromFile)

	log = log.Named("config.dispatcher")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DispatcherConfig
		if err := v.UnmarshalKey("dispatcher", &updated); err != nil {
			log.Warn("dispatcher config reload failed", zap.Error(err))
			return
		}
		if err := validateDispatcherConfig(updated); err != nil {
			log.Warn("invalid dispatcher config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("dispatcher config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// StaticDispatcherConfig returns a holder pinned to cfg.
func StaticDispatcherConfig(cfg DispatcherConfig) *DispatcherConfigHolder {
	holder := &DispatcherConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *DispatcherConfigHolder) Get() DispatcherConfig {
	return h.current.Load().(DispatcherConfig)
}

func validateDispatcherConfig(cfg DispatcherConfig) error {
	if cfg.MaxConcurrency <= 0 {
		return errors.New("dispatcher.max_concurrency must be positive")
	}
	if cfg.TaskTimeout <= 0 {
		return errors.New("dispatcher.task_timeout must be positive")
	}
	return nil
}
