// Package testutils holds fixtures shared by the package tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devloop/internal/config"
)

// DefaultProject is a source tree compiled by the builtin units only.
var DefaultProject = map[string]string{
	"src/style/base.css":  "body{margin:0}",
	"src/style/theme.css": "body{color:red}",
	"src/site.yml":        "title: v1\n",
	"src/index.html":      "<html><body><h1>{{.title}}</h1></body></html>",
}

// CreateTempProject writes files, keyed by slash separated relative path,
// into a fresh temporary directory and returns it.
func CreateTempProject(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		WriteFile(t, filepath.Join(root, filepath.FromSlash(name)), content)
	}
	return root
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// CreateTestConfig returns a configuration for a DefaultProject at root:
// a concatenated style group, a templated markup group, both listeners on
// loopback with free ports and a short debounce.
func CreateTestConfig(root string) *config.Config {
	return &config.Config{
		Root:   root,
		Dist:   filepath.Join(root, "dist"),
		Server: config.ServerConfig{Host: "127.0.0.1"},
		Reload: config.ReloadConfig{Host: "127.0.0.1"},
		Watch:  config.WatchConfig{Debounce: 30 * time.Millisecond},
		Log:    config.LogConfig{Level: "debug", Format: "text"},
		Assets: map[string]config.AssetConfig{
			"style": {
				Compiler: config.CompilerConcat,
				Sources:  []string{"src/style/*.css"},
				Watch:    []string{"src/style/**/*"},
				Output:   "index.css",
				Change:   config.ChangeStyle,
			},
			"markup": {
				Compiler: config.CompilerTemplate,
				Sources:  []string{"src/index.html"},
				Watch:    []string{"src/index.html", "src/site.yml"},
				Output:   "index.html",
				Change:   config.ChangeFull,
				Locals:   "src/site.yml",
			},
		},
	}
}

// WaitForFileContent polls path until it holds want.
func WaitForFileContent(t *testing.T, path, want string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			last = string(data)
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("file %s did not reach the expected content within %v, last content %q", path, timeout, last)
}
