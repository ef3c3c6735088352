// Package cmd provides the devloop command-line interface.
//
// Configuration is resolved from several sources, highest priority first:
//
//  1. Command-line flags (--port, --reload-port, --log-level, ...)
//  2. Environment variables following DEVLOOP_<SECTION>_<OPTION>, for
//     example DEVLOOP_SERVER_PORT or DEVLOOP_WATCH_DEBOUNCE
//  3. The configuration file: --config, else DEVLOOP_CONFIG_FILE, else
//     .devloop.yml in the current directory
//  4. Built-in defaults
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/devloop/internal/config"
	"github.com/conneroisu/devloop/internal/logging"
	"github.com/conneroisu/devloop/internal/monitoring"
	"github.com/conneroisu/devloop/internal/services"
	"github.com/conneroisu/devloop/internal/telemetry"
)

var cfgFile string

// rootCmd runs the development loop when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "devloop",
	Short: "Compile, serve and live-reload a front-end project",
	Long: `devloop wipes the destination directory, compiles every asset group in
parallel, serves the result with a single-page-app fallback and pushes
reload commands to connected browsers while it watches the sources.

Default asset groups:
  script   src/elm/*.elm         -> dist/bundle.js   (full reload)
  style    src/stylus/index.styl -> dist/index.css   (stylesheet swap)
  markup   src/index.pug         -> dist/index.html  (full reload)

Examples:
  devloop                         Start the development loop
  devloop --port 3000             Serve on another port
  devloop build                   Clean build without serving
  devloop config                  Show the resolved configuration
  devloop init                    Write a starter project`,
	SilenceUsage: true,
	RunE:         runDev,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is .devloop.yml, can also use DEVLOOP_CONFIG_FILE env var)")
	pf.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.Bool("trace", false, "log a span for every startup task")

	f := rootCmd.Flags()
	f.IntP("port", "p", 8080, "dev server port")
	f.Int("reload-port", 35729, "livereload port")
	f.String("host", "", "dev server host")
	f.Bool("loopback", false, "signal reloads through the /changed endpoint")
}

// flagBindings maps configuration keys to the flags overriding them.
var flagBindings = map[string]string{
	"log.level":       "log-level",
	"log.format":      "log-format",
	"log.trace":       "trace",
	"server.port":     "port",
	"server.host":     "host",
	"reload.port":     "reload-port",
	"reload.loopback": "loopback",
}

// initConfig registers defaults, flag bindings and the config file.
//
// A missing config file is not an error; a malformed one is reported when
// the configuration is loaded.
func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	for key, name := range flagBindings {
		if flag := lookupFlag(name); flag != nil {
			_ = v.BindPFlag(key, flag)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("DEVLOOP_CONFIG_FILE"); envConfigFile != "" {
		v.SetConfigFile(envConfigFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".devloop")
	}

	v.SetEnvPrefix("DEVLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func lookupFlag(name string) *pflag.Flag {
	if flag := rootCmd.PersistentFlags().Lookup(name); flag != nil {
		return flag
	}
	return rootCmd.Flags().Lookup(name)
}

// loadConfig reads the config file, if any, and validates the result.
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// A relative root in a config file is relative to that file.
	if used := v.ConfigFileUsed(); used != "" {
		if root := v.GetString("root"); !filepath.IsAbs(root) {
			v.Set("root", filepath.Join(filepath.Dir(used), root))
		}
	}
	return config.Load(v)
}

// newLogger builds the process logger from the log section.
func newLogger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	}), nil
}

// newTracerProvider returns a span-logging provider when log.trace is set,
// and a func that flushes it.
func newTracerProvider(cfg *config.Config, logger logging.Logger) (trace.TracerProvider, func()) {
	if !cfg.Log.Trace {
		return nil, func() {}
	}
	tp := telemetry.NewProvider(logger)
	return tp, func() { _ = tp.Shutdown(context.Background()) }
}

func runDev(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info(cmd.Context(), "Using config file", "path", used)
	}

	tracing, flush := newTracerProvider(cfg, logger)
	defer flush()

	svc, err := services.NewDevService(cfg, services.Options{
		Logger:         logger,
		Metrics:        monitoring.NewMetrics(),
		TracerProvider: tracing,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}
