// Package log provides the structured logger used across every core
// component. It wraps go-kit/log the same way the rest of the ecosystem
// this service was built alongside does, so that log lines are uniform
// key=value pairs regardless of which component emits them.
package log

import (
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the process-wide base logger. Components should derive from
// it with log.With rather than constructing their own.
var Logger = newDefaultLogger()

var mu sync.Mutex

func newDefaultLogger() log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(l, level.AllowInfo())
}

// Config controls the process-wide logger's level and format.
type Config struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Init rebuilds the process-wide Logger from cfg. Called from main at
// startup and again during the Config module's Initialize phase.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	var l log.Logger
	w := log.NewSyncWriter(os.Stderr)
	if cfg.Format == "json" {
		l = log.NewJSONLogger(w)
	} else {
		l = log.NewLogfmtLogger(w)
	}
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	Logger = level.NewFilter(l, lvl)
	return nil
}

func parseLevel(s string) (level.Option, error) {
	switch s {
	case "", "info":
		return level.AllowInfo(), nil
	case "debug":
		return level.AllowDebug(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return level.AllowInfo(), nil
	}
}
