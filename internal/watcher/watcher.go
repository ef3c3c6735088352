// Package watcher observes the source tree, debounces change bursts per
// asset group, recompiles the group and signals reload clients on success.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/devloop/internal/assets"
	"github.com/conneroisu/devloop/internal/logging"
	"github.com/conneroisu/devloop/internal/monitoring"
	"github.com/conneroisu/devloop/internal/types"
)

// DefaultDebounce is the quiet period before a rebuild starts.
const DefaultDebounce = 150 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Root is the project root the group globs are relative to.
	Root string
	// Dest is the destination directory. Changes inside it are ignored.
	Dest     string
	Fs       afero.Fs
	Groups   *assets.Set
	Signaler Signaler
	Debounce time.Duration
	// Ignore holds extra globs, relative to Root, whose changes are dropped.
	Ignore  []string
	Logger  logging.Logger
	Metrics *monitoring.Metrics
}

// Watcher routes filesystem changes to per-group subscriptions.
type Watcher struct {
	opts   Options
	logger logging.Logger

	mu      sync.RWMutex
	subs    map[string]*Subscription
	fw      *FileWatcher
	started bool
}

// New creates a watcher. Nothing is observed until Start.
func New(opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	return &Watcher{
		opts:   opts,
		logger: opts.Logger.WithComponent("watcher"),
		subs:   make(map[string]*Subscription),
	}
}

// Start creates one subscription per group and begins observing every
// group's watch roots. It returns once the watches are in place.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	for _, g := range w.opts.Groups.All() {
		w.subs[g.Name] = NewSubscription(ctx, g, SubscriptionConfig{
			Compile:  w.compileFunc(g),
			Signaler: w.opts.Signaler,
			Debounce: w.opts.Debounce,
			Logger:   w.opts.Logger,
			Metrics:  w.opts.Metrics,
		})
	}

	fw, err := NewFileWatcher(w.logger)
	if err != nil {
		return err
	}
	fw.AddFilter(NoGitFilter)
	fw.AddFilter(NoEditorTempFilter)
	if w.opts.Dest != "" {
		fw.AddFilter(NotUnder(w.opts.Dest))
	}
	fw.SetHandler(w.Notify)

	roots := make(map[string]struct{})
	for _, g := range w.opts.Groups.All() {
		for _, root := range g.WatchRoots(w.opts.Root) {
			if _, ok := roots[root]; ok {
				continue
			}
			roots[root] = struct{}{}
			if err := fw.AddRecursive(root); err != nil {
				_ = fw.Stop()
				return err
			}
		}
	}

	fw.Start(ctx)
	w.fw = fw
	w.started = true

	w.logger.Info(ctx, "Watching for changes",
		"groups", w.opts.Groups.Names(),
		"directories", len(fw.WatchList()),
		"debounce", w.opts.Debounce.String())
	return nil
}

// Serve is the start function of the watch service.
func (w *Watcher) Serve(ctx context.Context, ready func()) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	ready()

	<-ctx.Done()
	return w.Close()
}

func (w *Watcher) compileFunc(g *assets.Group) CompileFunc {
	return func(ctx context.Context) error {
		return g.Compile(ctx, w.opts.Fs, w.opts.Root, w.opts.Dest)
	}
}

// Notify routes a changed path to every group whose watch globs match it.
// Absolute paths are taken relative to the project root.
func (w *Watcher) Notify(ev FileEvent) {
	path := ev.Path
	rel := path
	if filepath.IsAbs(path) {
		var err error
		if rel, err = filepath.Rel(w.opts.Root, path); err != nil {
			return
		}
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return
	}
	for _, pattern := range w.opts.Ignore {
		if assets.Match(pattern, rel) {
			return
		}
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, g := range w.opts.Groups.Match(rel) {
		if sub, ok := w.subs[g.Name]; ok {
			w.logger.Debug(context.Background(), "Change detected", "path", rel, "op", ev.Type.String(), "group", g.Name)
			sub.Notify()
		}
	}
}

// Subscription returns the named group's subscription once started.
func (w *Watcher) Subscription(name string) (*Subscription, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sub, ok := w.subs[name]
	return sub, ok
}

// Statuses implements types.StatusReporter.
func (w *Watcher) Statuses() []types.GroupStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]types.GroupStatus, 0, len(w.subs))
	for _, name := range w.opts.Groups.Names() {
		if sub, ok := w.subs[name]; ok {
			out = append(out, sub.Status())
		}
	}
	return out
}

// Close stops observing and waits for in-flight compiles.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw := w.fw
	subs := make([]*Subscription, 0, len(w.subs))
	for _, sub := range w.subs {
		subs = append(subs, sub)
	}
	w.fw = nil
	w.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	if fw != nil {
		return fw.Stop()
	}
	return nil
}
