package config

import (
	"strings"

	"github.com/AzharJacobs/MT5/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchLogLevel re-reads app.log_level whenever the config file changes and
// applies it to the running logger. Only the level is hot-reloaded; every
// other setting needs a restart since the engine derives its schedule from
// it at startup.
func WatchLogLevel(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		level := strings.TrimSpace(v.GetString("app.log_level"))
		if level == "" {
			return
		}
		logger.SetLevel(level)
		logger.Infof("config change detected (%s), log level now %q", evt.Name, level)
	})
	v.WatchConfig()
	return nil
}
