package cli

import (
	"log/slog"

	"github.com/urfave/cli/v2"

	applog "github.com/clean-dependency-project/appfactory/internal/logger"
)

// ParseLogLevelOrDefault parses a log level string or returns the info level.
func ParseLogLevelOrDefault(levelStr string) slog.Level {
	level, err := applog.ParseLevel(levelStr)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// newLogger builds the logger from the global flags. Logs go to the error
// writer so stdout carries only command output.
func newLogger(c *cli.Context) (*slog.Logger, error) {
	return applog.New(c.String("log-level"), c.String("log-format"), c.App.ErrWriter)
}
