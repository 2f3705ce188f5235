// internal/config/watch.go
package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watch re-decodes the config file on every write and hands the result to onChange.
// Invalid edits are logged and ignored so the running configuration stays in place.
// It is a no-op when no config file was loaded.
func Watch(v *viper.Viper, logger *zap.Logger, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		logger.Debug("No config file in use, skipping config watch")
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change",
				zap.String("file", e.Name),
				zap.Error(err),
			)
			return
		}

		logger.Info("Config file changed", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}
