// Package config loads the btk configuration file.
//
// The format is dnsmasq-style: one "option value" pair per line, where the
// value is the remainder of the line. Lines starting with # are comments,
// and a [name] header starts a section whose options apply to that
// section only:
//
//	log-level debug
//	expr-cache-size 500
//
//	[run]
//	agents 4
//	interval 50ms
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds raw option values by section. The global section is "".
type Config struct {
	Global   map[string]string
	Sections map[string]map[string]string
	// Warnings lists problems found while loading, such as unknown options.
	Warnings []string
}

func NewConfig() *Config {
	return &Config{
		Global:   make(map[string]string),
		Sections: make(map[string]map[string]string),
	}
}

// Load reads the file at the default location, see Path.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the file at path. A missing file yields an empty
// config. Symlinks are rejected.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses a config and validates it against DefaultSchema,
// recording any issues as warnings.
func LoadFromReader(r io.Reader) (*Config, error) {
	c := NewConfig()
	scanner := bufio.NewScanner(r)
	section := ""
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("line %d: malformed section header %q", lineNo, line)
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			if section != "" && c.Sections[section] == nil {
				c.Sections[section] = make(map[string]string)
			}
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		c.SetOption(section, key, strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	for _, issue := range DefaultSchema().Validate(c) {
		c.addWarning("%s", issue)
	}
	return c, nil
}

func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("config: " + msg)
}

// Option returns the raw value of key in section.
func (c *Config) Option(section, key string) (string, bool) {
	opts := c.Global
	if section != "" {
		opts = c.Sections[section]
	}
	v, ok := opts[key]
	return v, ok
}

// SetOption sets the raw value of key in section.
func (c *Config) SetOption(section, key, value string) {
	if section == "" {
		c.Global[key] = value
		return
	}
	if c.Sections[section] == nil {
		c.Sections[section] = make(map[string]string)
	}
	c.Sections[section][key] = value
}

func (c *Config) HasWarnings() bool { return len(c.Warnings) > 0 }
