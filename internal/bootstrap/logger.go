package bootstrap

import (
	"leveraged/internal/core"
	"leveraged/pkg/logging"
)

// InitLogger creates the application logger and installs it as the global one
func InitLogger(cfg *Config) (core.ILogger, error) {
	zl, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := zl.WithField("app", cfg.App.Name)
	logging.SetGlobalLogger(logger)

	return logger, nil
}
