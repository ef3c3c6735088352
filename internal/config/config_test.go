package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devloop/internal/errors"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.Set("root", t.TempDir())
	return v
}

func TestLoadDefaults(t *testing.T) {
	v := newViper(t)
	root := v.GetString("root")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, filepath.Join(root, "dist"), cfg.Dist)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 35729, cfg.Reload.Port)
	assert.False(t, cfg.Reload.Loopback)
	assert.Equal(t, 150*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Trace)
	assert.Equal(t, []string{"markup", "script", "style"}, cfg.GroupNames())

	style := cfg.Assets["style"]
	assert.Equal(t, CompilerCommand, style.Compiler)
	assert.Equal(t, "stylus", style.Command)
	assert.Equal(t, ChangeStyle, style.Change)
	assert.Equal(t, []string{"src/stylus/**/*"}, style.Watch)
	assert.Equal(t, "index.css", style.Output)

	assert.Equal(t, ":8080", cfg.ServerAddr())
	assert.Equal(t, ":35729", cfg.ReloadAddr())
}

func TestLoadFromFile(t *testing.T) {
	v := newViper(t)
	v.SetConfigType("yaml")
	require.NoError(t, v.MergeConfig(strings.NewReader(`
server:
  port: 3000
watch:
  debounce: 300ms
  ignore:
    - "**/*.bak"
assets:
  style:
    command: sass
    args: ["{sources}", "{output}"]
  script:
    setup: ["elm", "package", "install", "--yes"]
  fonts:
    compiler: concat
    sources: ["src/fonts/*.css"]
    output: fonts.css
    change: style
`)))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, []string{"**/*.bak"}, cfg.Watch.Ignore)
	assert.Equal(t, []string{"fonts", "markup", "script", "style"}, cfg.GroupNames())

	style := cfg.Assets["style"]
	assert.Equal(t, "sass", style.Command)
	assert.Equal(t, []string{"{sources}", "{output}"}, style.Args)
	assert.Equal(t, []string{"src/stylus/index.styl"}, style.Sources, "unset keys keep their defaults")

	assert.Equal(t, []string{"elm", "package", "install", "--yes"}, cfg.Assets["script"].Setup)
	assert.Empty(t, style.Setup)

	fonts := cfg.Assets["fonts"]
	assert.Equal(t, CompilerConcat, fonts.Compiler)
	assert.Equal(t, ChangeStyle, fonts.Change)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DEVLOOP_RELOAD_PORT", "35800")
	t.Setenv("DEVLOOP_RELOAD_LOOPBACK", "true")

	v := newViper(t)
	v.SetEnvPrefix("DEVLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 35800, cfg.Reload.Port)
	assert.True(t, cfg.Reload.Loopback)
}

func TestLoadAppliesGroupDefaults(t *testing.T) {
	v := newViper(t)
	v.Set("assets.vendor", map[string]any{
		"command": "cp",
		"args":    []string{"{sources}", "{dest}"},
		"sources": []string{"vendor/*.js"},
	})

	cfg, err := Load(v)
	require.NoError(t, err)

	vendor := cfg.Assets["vendor"]
	assert.Equal(t, CompilerCommand, vendor.Compiler)
	assert.Equal(t, ChangeFull, vendor.Change)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(v *viper.Viper)
		message string
	}{
		{
			name:    "same ports",
			setup:   func(v *viper.Viper) { v.Set("reload.port", 8080) },
			message: "must differ",
		},
		{
			name:    "port out of range",
			setup:   func(v *viper.Viper) { v.Set("server.port", 70000) },
			message: "schema",
		},
		{
			name:    "debounce too short",
			setup:   func(v *viper.Viper) { v.Set("watch.debounce", "1ms") },
			message: "schema",
		},
		{
			name:    "debounce too long",
			setup:   func(v *viper.Viper) { v.Set("watch.debounce", "5s") },
			message: "schema",
		},
		{
			name:    "unknown log format",
			setup:   func(v *viper.Viper) { v.Set("log.format", "xml") },
			message: "schema",
		},
		{
			name:    "unknown compiler",
			setup:   func(v *viper.Viper) { v.Set("assets.style.compiler", "sassc") },
			message: "schema",
		},
		{
			name:    "unknown change class",
			setup:   func(v *viper.Viper) { v.Set("assets.style.change", "css") },
			message: "schema",
		},
		{
			name:    "command compiler without command",
			setup:   func(v *viper.Viper) { v.Set("assets.markup.command", "") },
			message: "schema",
		},
		{
			name:    "setup without command",
			setup:   func(v *viper.Viper) { v.Set("assets.script.setup", []string{"", "install"}) },
			message: "schema",
		},
		{
			name:    "dist is root",
			setup:   func(v *viper.Viper) { v.Set("dist", ".") },
			message: "dist",
		},
		{
			name:    "dist above root",
			setup:   func(v *viper.Viper) { v.Set("dist", "..") },
			message: "project root",
		},
		{
			name:    "dist inside sources",
			setup:   func(v *viper.Viper) { v.Set("dist", "src/stylus/out") },
			message: "overlaps",
		},
		{
			name:    "host with metacharacters",
			setup:   func(v *viper.Viper) { v.Set("reload.host", `"><script>`) },
			message: "invalid characters",
		},
		{
			name:    "invalid glob",
			setup:   func(v *viper.Viper) { v.Set("assets.script.sources", []string{"src/elm/[*.elm"}) },
			message: "invalid glob",
		},
		{
			name:    "glob outside root",
			setup:   func(v *viper.Viper) { v.Set("assets.script.sources", []string{"../elm/*.elm"}) },
			message: "inside the project root",
		},
		{
			name:    "invalid ignore glob",
			setup:   func(v *viper.Viper) { v.Set("watch.ignore", []string{"{a,b"}) },
			message: "ignore glob",
		},
		{
			name:    "output escapes dist",
			setup:   func(v *viper.Viper) { v.Set("assets.style.output", "../index.css") },
			message: "relative to dist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			tt.setup(v)

			cfg, err := Load(v)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, errors.IsKind(err, errors.KindConfig))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadRejectsUndecodableValues(t *testing.T) {
	v := newViper(t)
	v.Set("server.port", "invalid_port")

	_, err := Load(v)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func TestSchemaDiagnosticNamesField(t *testing.T) {
	v := newViper(t)
	v.Set("server.port", -1)

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, errors.Diagnostic(err), "/server/port")
}

func TestSchemaIsEmbedded(t *testing.T) {
	require.NoError(t, compileSchema())
	assert.Contains(t, string(Schema()), "devloop configuration")
}

func TestLoadDisabledGroups(t *testing.T) {
	v := newViper(t)
	v.Set("assets.script.disabled", true)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"markup", "style"}, cfg.GroupNames())

	v = newViper(t)
	for _, name := range []string{"script", "style", "markup"} {
		v.Set("assets."+name+".disabled", true)
	}
	_, err = Load(v)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}
