package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Settings is the typed, resolved form of DefaultSchema.
type Settings struct {
	LogLevel      slog.Level
	ExprCacheSize int
	Tree          string
	Agents        int
	Ticks         int
	Interval      time.Duration
	Loop          bool
}

// Resolve resolves every DefaultSchema option against c, the environment
// and the defaults. All type errors are reported together.
func Resolve(c *Config) (Settings, error) {
	s := DefaultSchema()
	var (
		out  Settings
		errs []error
	)
	get := func(section, key string) string { return s.Resolve(c, section, key) }
	atoi := func(section, key string, lo int) int {
		v, err := strconv.Atoi(get(section, key))
		if err == nil && v < lo {
			err = fmt.Errorf("must be at least %d", lo)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return v
	}

	var err error
	if out.LogLevel, err = parseLevel(get("", "log-level")); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	out.ExprCacheSize = atoi("", "expr-cache-size", 1)
	out.Tree = get("", "tree")
	out.Agents = atoi("run", "agents", 1)
	out.Ticks = atoi("run", "ticks", 0)
	if out.Interval, err = time.ParseDuration(get("run", "interval")); err != nil {
		errs = append(errs, fmt.Errorf("interval: %w", err))
	} else if out.Interval <= 0 {
		errs = append(errs, errors.New("interval: must be positive"))
	}
	if out.Loop, err = parseBool(get("run", "loop")); err != nil {
		errs = append(errs, fmt.Errorf("loop: %w", err))
	}
	return out, errors.Join(errs...)
}
