package watcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devloop/internal/assets"
	"github.com/conneroisu/devloop/internal/build"
	"github.com/conneroisu/devloop/internal/logging"
	"github.com/conneroisu/devloop/internal/types"
	"github.com/conneroisu/devloop/internal/workspace"
)

func TestEventTypeOf(t *testing.T) {
	testCases := []struct {
		op       fsnotify.Op
		expected string
	}{
		{fsnotify.Create, "created"},
		{fsnotify.Write, "modified"},
		{fsnotify.Remove, "deleted"},
		{fsnotify.Rename, "renamed"},
		{fsnotify.Create | fsnotify.Write, "created"},
	}

	for _, tc := range testCases {
		t.Run(tc.op.String(), func(t *testing.T) {
			assert.Equal(t, tc.expected, eventTypeOf(tc.op).String())
		})
	}
	assert.Equal(t, "unknown", EventType(42).String())
}

func modified(path string) FileEvent {
	return FileEvent{Type: EventTypeModified, Path: path}
}

// syncBuffer is a bytes.Buffer safe for concurrent loggers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFilters(t *testing.T) {
	assert.False(t, NoGitFilter("/proj/.git/index"))
	assert.True(t, NoGitFilter("/proj/src/elm/Main.elm"))

	for _, name := range []string{"Main.elm~", ".index.styl.swp", "4913", ".#index.pug", "#index.pug#"} {
		assert.False(t, NoEditorTempFilter("/proj/src/"+name), name)
	}
	assert.True(t, NoEditorTempFilter("/proj/src/index.pug"))

	notDist := NotUnder("/proj/dist")
	assert.False(t, notDist("/proj/dist"))
	assert.False(t, notDist("/proj/dist/bundle.js"))
	assert.True(t, notDist("/proj/distribution/x"))
}

type project struct {
	root string
	dest string
	set  *assets.Set
}

func newProject(t *testing.T) project {
	t.Helper()

	root := t.TempDir()
	write(t, filepath.Join(root, "src/stylus/index.css"), "body{color:red}")
	write(t, filepath.Join(root, "src/markup/index.html"), "<html><body>v1</body></html>")

	fsys := afero.NewOsFs()
	style := &assets.Group{
		Name:    "style",
		Sources: []string{"src/stylus/*.css"},
		Watch:   []string{"src/stylus/**/*"},
		Unit:    build.NewConcat(fsys, "style", "index.css"),
		Class:   types.StylePatch,
	}
	markup := &assets.Group{
		Name:    "markup",
		Sources: []string{"src/markup/index.html"},
		Unit:    build.NewConcat(fsys, "markup", "index.html"),
		Class:   types.FullReload,
	}
	set, err := assets.NewSet(style, markup)
	require.NoError(t, err)

	return project{root: root, dest: filepath.Join(root, "dist"), set: set}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func startWatcher(t *testing.T, p project, sig Signaler) *Watcher {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	w := New(Options{
		Root:     p.root,
		Dest:     p.dest,
		Groups:   p.set,
		Signaler: sig,
		Debounce: testDebounce,
		Logger:   logging.Nop(),
	})
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})
	return w
}

func TestWatcherStyleChangeSignalsPatch(t *testing.T) {
	p := newProject(t)
	sig := &recordingSignaler{}
	startWatcher(t, p, sig)

	write(t, filepath.Join(p.root, "src/stylus/index.css"), "body{color:blue}")

	require.Eventually(t, func() bool { return len(sig.Events()) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(5 * testDebounce)

	assert.Equal(t, 1, sig.count(types.StylePatch))
	assert.Equal(t, 0, sig.count(types.FullReload))

	data, err := os.ReadFile(filepath.Join(p.dest, "index.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{color:blue}\n", string(data))
}

func TestWatcherRoutesByGroup(t *testing.T) {
	p := newProject(t)
	sig := &recordingSignaler{}
	w := startWatcher(t, p, sig)

	w.Notify(modified(filepath.Join(p.root, "src/markup/index.html")))
	w.Notify(modified(filepath.Join(p.root, "README.md")))
	w.Notify(modified("/elsewhere/src/markup/index.html"))

	require.Eventually(t, func() bool { return len(sig.Events()) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(5 * testDebounce)

	events := sig.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.FullReload, events[0].Class)
	assert.Equal(t, "markup", events[0].Group)

	statuses := w.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "markup", statuses[0].Name)
	assert.Equal(t, 1, statuses[0].Compiles)
	assert.Equal(t, 0, statuses[1].Compiles)
}

func TestWatcherFailedCompileKeepsServedFiles(t *testing.T) {
	p := newProject(t)
	ws := workspace.New(p.dest)

	ctx := context.Background()
	for _, g := range p.set.All() {
		require.NoError(t, g.Compile(ctx, afero.NewOsFs(), p.root, p.dest))
	}
	before, err := ws.Snapshot()
	require.NoError(t, err)
	require.Len(t, before, 2)

	sig := &recordingSignaler{}
	w := startWatcher(t, p, sig)

	require.NoError(t, os.Remove(filepath.Join(p.root, "src/stylus/index.css")))

	sub, ok := w.Subscription("style")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return sub.Status().State == types.StateFailed
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(5 * testDebounce)

	after, err := ws.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, sig.Events())
}

func TestWatcherIgnoresDestination(t *testing.T) {
	p := newProject(t)
	sig := &recordingSignaler{}
	w := New(Options{
		Root:     p.root,
		Dest:     filepath.Join(p.root, "src/stylus/out"),
		Groups:   p.set,
		Signaler: sig,
		Debounce: testDebounce,
		Ignore:   []string{"src/stylus/*.tmp.css"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	write(t, filepath.Join(p.root, "src/stylus/out/index.css"), "generated")
	w.Notify(modified(filepath.Join(p.root, "src/stylus/scratch.tmp.css")))

	time.Sleep(10 * testDebounce)
	assert.Empty(t, sig.Events())
}

func TestWatcherLogsEventType(t *testing.T) {
	p := newProject(t)
	var logs syncBuffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Format: "text", Output: &logs})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(Options{
		Root:     p.root,
		Dest:     p.dest,
		Groups:   p.set,
		Signaler: &recordingSignaler{},
		Debounce: testDebounce,
		Logger:   logger,
	})
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	require.NoError(t, os.Remove(filepath.Join(p.root, "src/stylus/index.css")))
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "op=deleted")
	}, 5*time.Second, 10*time.Millisecond)

	extra := filepath.Join(p.root, "src/stylus/extra")
	require.NoError(t, os.Mkdir(extra, 0o755))
	require.Eventually(t, func() bool {
		return slices.Contains(w.fw.WatchList(), extra)
	}, 5*time.Second, 10*time.Millisecond)

	write(t, filepath.Join(extra, "added.css"), "a{}")
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "path=src/stylus/extra/added.css")
	}, 5*time.Second, 10*time.Millisecond, "files in new directories are reported")
}
