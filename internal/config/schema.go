package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
	// TypeLevel is a log level: debug, info, warn or error.
	TypeLevel OptionType = "level"
)

// Option declares one configuration option.
type Option struct {
	Key         string
	Section     string
	Type        OptionType
	Default     string
	Description string
	// EnvVar, when set, overrides the file value.
	EnvVar string
}

// Schema declares the known options, for validation, typed resolution and
// help output.
type Schema struct {
	options []*Option
	index   map[string]map[string]*Option
}

func NewSchema() *Schema {
	return &Schema{index: make(map[string]map[string]*Option)}
}

// Register adds an option; a later registration of the same section and
// key replaces the earlier one.
func (s *Schema) Register(opts ...Option) {
	for _, opt := range opts {
		ref := &opt
		if s.index[opt.Section] == nil {
			s.index[opt.Section] = make(map[string]*Option)
		}
		if old, ok := s.index[opt.Section][opt.Key]; ok {
			*old = opt
			continue
		}
		s.index[opt.Section][opt.Key] = ref
		s.options = append(s.options, ref)
	}
}

// Lookup returns the option for key in section ("" for global), or nil.
func (s *Schema) Lookup(section, key string) *Option {
	return s.index[section][key]
}

// Options returns the options of a section in registration order.
func (s *Schema) Options(section string) []Option {
	var out []Option
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the named sections, sorted.
func (s *Schema) Sections() []string {
	var out []string
	for sec := range s.index {
		if sec != "" {
			out = append(out, sec)
		}
	}
	slices.Sort(out)
	return out
}

// Resolve returns the effective value of an option: its environment
// variable if set, then the config value, then the default.
func (s *Schema) Resolve(c *Config, section, key string) string {
	opt := s.Lookup(section, key)
	if opt != nil && opt.EnvVar != "" {
		if v := os.Getenv(opt.EnvVar); v != "" {
			return v
		}
	}
	if c != nil {
		if v, ok := c.Option(section, key); ok {
			return v
		}
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// Validate reports unknown options and values that do not parse as their
// declared type, sorted.
func (s *Schema) Validate(c *Config) []string {
	var issues []string
	check := func(section, key, value string) {
		where := "global option"
		if section != "" {
			where = fmt.Sprintf("option in [%s]", section)
		}
		opt := s.Lookup(section, key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown %s %q (value: %q)", where, key, value))
			return
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("%s %q: %v", where, key, err))
		}
	}
	for key, value := range c.Global {
		check("", key, value)
	}
	for section, opts := range c.Sections {
		for key, value := range opts {
			check(section, key, value)
		}
	}
	slices.Sort(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	var err error
	switch t {
	case TypeString, "":
	case TypeBool:
		_, err = parseBool(value)
	case TypeInt:
		_, err = strconv.Atoi(value)
	case TypeDuration:
		_, err = time.ParseDuration(value)
	case TypeLevel:
		_, err = parseLevel(value)
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	if err != nil {
		return fmt.Errorf("expected %s, got %q", t, value)
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %s", s)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// FormatHelp renders every option, global first, then by section.
func (s *Schema) FormatHelp() string {
	var b strings.Builder
	write := func(o Option) {
		fmt.Fprintf(&b, "  %-20s %s", o.Key, o.Description)
		var parts []string
		if o.Type != "" && o.Type != TypeString {
			parts = append(parts, "type: "+string(o.Type))
		}
		if o.Default != "" {
			parts = append(parts, "default: "+o.Default)
		}
		if o.EnvVar != "" {
			parts = append(parts, "env: "+o.EnvVar)
		}
		if len(parts) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
		}
		b.WriteByte('\n')
	}
	if globals := s.Options(""); len(globals) > 0 {
		b.WriteString("Global options:\n")
		for _, o := range globals {
			write(o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] options:\n", sec)
		for _, o := range s.Options(sec) {
			write(o)
		}
	}
	return b.String()
}

// DefaultSchema declares every option btk understands.
func DefaultSchema() *Schema {
	s := NewSchema()
	s.Register(
		Option{Key: "log-level", Type: TypeLevel, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "BTK_LOG_LEVEL"},
		Option{Key: "expr-cache-size", Type: TypeInt, Default: "1000", Description: "Compiled expression cache capacity", EnvVar: "BTK_EXPR_CACHE_SIZE"},
		Option{Key: "tree", Type: TypeString, Description: "Tree asset YAML file", EnvVar: "BTK_TREE"},

		Option{Key: "agents", Section: "run", Type: TypeInt, Default: "1", Description: "Number of agents sharing the tree", EnvVar: "BTK_AGENTS"},
		Option{Key: "ticks", Section: "run", Type: TypeInt, Default: "10", Description: "Ticks per agent, 0 to tick until the tree finishes"},
		Option{Key: "interval", Section: "run", Type: TypeDuration, Default: "100ms", Description: "Delay between ticks"},
		Option{Key: "loop", Section: "run", Type: TypeBool, Default: "false", Description: "Restart the tree when it finishes"},
	)
	return s
}
