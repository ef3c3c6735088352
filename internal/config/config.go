// Package config loads devloop settings with Viper from defaults, an
// optional .devloop.yml file, DEVLOOP_ environment variables and
// command-line flags.
//
// Decoded settings pass two validation stages: an embedded JSON schema
// checks shape, enums and ranges, then Go checks cover the cross-field
// rules a schema cannot express, such as distinct ports and a destination
// directory that does not swallow the project.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"github.com/conneroisu/devloop/internal/errors"
)

// Compiler kinds an asset group may use.
const (
	CompilerCommand  = "command"
	CompilerConcat   = "concat"
	CompilerTemplate = "template"
)

// Change classes an asset group may declare.
const (
	ChangeFull  = "full"
	ChangeStyle = "style"
)

// Config is the resolved devloop configuration.
type Config struct {
	Root   string                 `mapstructure:"root" json:"root" yaml:"root"`
	Dist   string                 `mapstructure:"dist" json:"dist" yaml:"dist"`
	Server ServerConfig           `mapstructure:"server" json:"server" yaml:"server"`
	Reload ReloadConfig           `mapstructure:"reload" json:"reload" yaml:"reload"`
	Watch  WatchConfig            `mapstructure:"watch" json:"watch" yaml:"watch"`
	Log    LogConfig              `mapstructure:"log" json:"log" yaml:"log"`
	Assets map[string]AssetConfig `mapstructure:"assets" json:"assets" yaml:"assets"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" json:"host" yaml:"host"`
	Port int    `mapstructure:"port" json:"port" yaml:"port"`
}

// ReloadConfig configures the livereload broker. With Loopback set the
// watcher signals the broker over HTTP the way an external tool would
// instead of calling it in process.
type ReloadConfig struct {
	Host     string `mapstructure:"host" json:"host" yaml:"host"`
	Port     int    `mapstructure:"port" json:"port" yaml:"port"`
	Loopback bool   `mapstructure:"loopback" json:"loopback" yaml:"loopback"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" json:"debounce" yaml:"debounce"`
	Ignore   []string      `mapstructure:"ignore" json:"ignore" yaml:"ignore"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
	// Trace logs an OpenTelemetry span for every startup task.
	Trace bool `mapstructure:"trace" json:"trace" yaml:"trace"`
}

// AssetConfig describes one asset group.
type AssetConfig struct {
	Compiler string   `mapstructure:"compiler" json:"compiler" yaml:"compiler"`
	Command  string   `mapstructure:"command" json:"command,omitempty" yaml:"command,omitempty"`
	Args     []string `mapstructure:"args" json:"args,omitempty" yaml:"args,omitempty"`
	Sources  []string `mapstructure:"sources" json:"sources" yaml:"sources"`
	Watch    []string `mapstructure:"watch" json:"watch,omitempty" yaml:"watch,omitempty"`
	Output   string   `mapstructure:"output" json:"output" yaml:"output"`
	Change   string   `mapstructure:"change" json:"change" yaml:"change"`
	Locals   string   `mapstructure:"locals" json:"locals,omitempty" yaml:"locals,omitempty"`
	Entry    string   `mapstructure:"entry" json:"entry,omitempty" yaml:"entry,omitempty"`
	// Setup is a command line run once in the project root before the
	// first clean, for example a package install.
	Setup []string `mapstructure:"setup" json:"setup,omitempty" yaml:"setup,omitempty"`
	// Disabled drops the group, including a default one.
	Disabled bool `mapstructure:"disabled" json:"-" yaml:"-"`
}

// DefaultAssets returns the script, style and markup groups used when the
// configuration does not override them.
func DefaultAssets() map[string]AssetConfig {
	return map[string]AssetConfig{
		"script": {
			Compiler: CompilerCommand,
			Command:  "elm",
			Args:     []string{"make", "{sources}", "--output", "{output}"},
			Sources:  []string{"src/elm/*.elm"},
			Watch:    []string{"src/elm/**/*"},
			Output:   "bundle.js",
			Change:   ChangeFull,
		},
		"style": {
			Compiler: CompilerCommand,
			Command:  "stylus",
			Args:     []string{"--include-css", "--sourcemap-inline", "--out", "{dest}", "{sources}"},
			Sources:  []string{"src/stylus/index.styl"},
			Watch:    []string{"src/stylus/**/*"},
			Output:   "index.css",
			Change:   ChangeStyle,
		},
		"markup": {
			Compiler: CompilerCommand,
			Command:  "pug",
			Args:     []string{"--out", "{dest}", "{sources}"},
			Sources:  []string{"src/index.pug"},
			Output:   "index.html",
			Change:   ChangeFull,
		},
	}
}

// SetDefaults registers every default with v so that environment variables
// bound through AutomaticEnv are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("dist", "dist")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("reload.host", "")
	v.SetDefault("reload.port", 35729)
	v.SetDefault("reload.loopback", false)
	v.SetDefault("watch.debounce", 150*time.Millisecond)
	v.SetDefault("watch.ignore", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.trace", false)

	for name, ac := range DefaultAssets() {
		prefix := "assets." + name + "."
		v.SetDefault(prefix+"compiler", ac.Compiler)
		v.SetDefault(prefix+"command", ac.Command)
		v.SetDefault(prefix+"args", ac.Args)
		v.SetDefault(prefix+"sources", ac.Sources)
		v.SetDefault(prefix+"watch", ac.Watch)
		v.SetDefault(prefix+"output", ac.Output)
		v.SetDefault(prefix+"change", ac.Change)
		v.SetDefault(prefix+"setup", []string{})
	}
}

// Load decodes and validates the configuration held by v. Root becomes
// absolute and Dist is resolved against it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError("failed to decode configuration", err)
	}

	if cfg.Root == "" {
		cfg.Root = "."
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.NewConfigError("failed to resolve project root", err).WithPath(cfg.Root)
	}
	cfg.Root = root

	if cfg.Dist != "" && !filepath.IsAbs(cfg.Dist) {
		cfg.Dist = filepath.Join(cfg.Root, cfg.Dist)
	}
	cfg.Dist = filepath.Clean(cfg.Dist)

	for name, ac := range cfg.Assets {
		if ac.Disabled {
			delete(cfg.Assets, name)
			continue
		}
		if ac.Compiler == "" {
			ac.Compiler = CompilerCommand
		}
		if ac.Change == "" {
			ac.Change = ChangeFull
		}
		cfg.Assets[name] = ac
	}

	if err := ValidateSchema(&cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GroupNames returns the configured asset group names in sorted order.
func (c *Config) GroupNames() []string {
	names := make([]string, 0, len(c.Assets))
	for name := range c.Assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerAddr returns the dev server listen address.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ReloadAddr returns the livereload listen address.
func (c *Config) ReloadAddr() string {
	return fmt.Sprintf("%s:%d", c.Reload.Host, c.Reload.Port)
}

func validateConfig(cfg *Config) error {
	if err := validateHost("server.host", cfg.Server.Host); err != nil {
		return err
	}
	if err := validateHost("reload.host", cfg.Reload.Host); err != nil {
		return err
	}
	if cfg.Server.Port != 0 && cfg.Server.Port == cfg.Reload.Port {
		return errors.NewConfigError(
			fmt.Sprintf("server.port and reload.port must differ, both are %d", cfg.Server.Port), nil)
	}

	if err := validateDist(cfg); err != nil {
		return err
	}

	for _, pattern := range cfg.Watch.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return errors.NewConfigError(fmt.Sprintf("invalid ignore glob %q", pattern), nil)
		}
	}

	for _, name := range cfg.GroupNames() {
		if err := validateAsset(name, cfg.Assets[name]); err != nil {
			return err
		}
	}
	return nil
}

// validateHost rejects hosts carrying shell or markup metacharacters, since
// the reload host ends up inside the injected script tag.
func validateHost(key, host string) error {
	if strings.ContainsAny(host, ";&|$`()<>\"'\\ ") {
		return errors.NewConfigError(fmt.Sprintf("%s contains invalid characters", key), nil).
			WithContext("host", host)
	}
	return nil
}

// validateDist ensures the destination is neither the project root nor an
// ancestor of it, and does not overlap any group's watch tree.
func validateDist(cfg *Config) error {
	if cfg.Dist == "" || cfg.Dist == "." {
		return errors.NewConfigError("dist must name a directory", nil)
	}
	if within(cfg.Root, cfg.Dist) {
		return errors.NewConfigError("dist must not contain the project root", nil).
			WithPath(cfg.Dist)
	}

	for _, name := range cfg.GroupNames() {
		ac := cfg.Assets[name]
		patterns := ac.Watch
		if len(patterns) == 0 {
			patterns = ac.Sources
		}
		for _, pattern := range patterns {
			base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
			if base == "" || base == "." {
				continue
			}
			abs := filepath.Join(cfg.Root, filepath.FromSlash(base))
			if within(cfg.Dist, abs) || within(abs, cfg.Dist) {
				return errors.NewConfigError(
					fmt.Sprintf("dist overlaps the sources of asset group %q", name), nil).
					WithPath(cfg.Dist).
					WithContext("pattern", pattern)
			}
		}
	}
	return nil
}

func validateAsset(name string, ac AssetConfig) error {
	fail := func(msg string) error {
		return errors.NewConfigError(msg, nil).WithContext("group", name)
	}

	switch ac.Compiler {
	case CompilerCommand:
		if ac.Command == "" {
			return fail("command compiler requires a command")
		}
	case CompilerConcat, CompilerTemplate:
	default:
		return fail(fmt.Sprintf("unknown compiler %q", ac.Compiler))
	}

	switch ac.Change {
	case ChangeFull, ChangeStyle:
	default:
		return fail(fmt.Sprintf("unknown change class %q", ac.Change))
	}

	if len(ac.Sources) == 0 {
		return fail("asset group has no sources")
	}
	for _, pattern := range append(append([]string(nil), ac.Sources...), ac.Watch...) {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return fail(fmt.Sprintf("invalid glob %q", pattern))
		}
		if filepath.IsAbs(pattern) || strings.HasPrefix(filepath.ToSlash(filepath.Clean(pattern)), "../") {
			return fail(fmt.Sprintf("glob %q must stay inside the project root", pattern))
		}
	}

	if ac.Output != "" && (filepath.IsAbs(ac.Output) || strings.Contains(filepath.ToSlash(ac.Output), "..")) {
		return fail(fmt.Sprintf("output %q must be relative to dist", ac.Output))
	}
	if ac.Compiler != CompilerCommand && ac.Output == "" {
		return fail(ac.Compiler + " compiler requires an output")
	}

	return nil
}

// within reports whether path equals dir or lies beneath it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
