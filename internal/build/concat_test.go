package build

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devloop/internal/errors"
)

func TestConcatOrdersSources(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/b.css", []byte("b{}"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/a.css", []byte("a{}\n"), 0o644))

	c := NewConcat(fsys, "style", "index.css")
	require.NoError(t, c.Compile(context.Background(), []string{"/src/b.css", "/src/a.css"}, "/dist"))

	data, err := afero.ReadFile(fsys, "/dist/index.css")
	require.NoError(t, err)
	assert.Equal(t, "a{}\nb{}\n", string(data))
}

func TestConcatIsIdempotent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/main.js", []byte("main();"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/util.js", []byte("util();"), 0o644))

	c := NewConcat(fsys, "script", "bundle.js")
	sources := []string{"/src/main.js", "/src/util.js"}

	require.NoError(t, c.Compile(context.Background(), sources, "/dist"))
	first, err := afero.ReadFile(fsys, "/dist/bundle.js")
	require.NoError(t, err)

	require.NoError(t, c.Compile(context.Background(), sources, "/dist"))
	second, err := afero.ReadFile(fsys, "/dist/bundle.js")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	entries, err := afero.ReadDir(fsys, "/dist")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestConcatErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := NewConcat(fsys, "script", "bundle.js")

	err := c.Compile(context.Background(), nil, "/dist")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCompile))

	err = c.Compile(context.Background(), []string{"/missing.js"}, "/dist")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCompile))

	exists, _ := afero.Exists(fsys, "/dist/bundle.js")
	assert.False(t, exists)
}
