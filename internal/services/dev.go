package services

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/devloop/internal/config"
	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/reload"
	"github.com/conneroisu/devloop/internal/server"
	"github.com/conneroisu/devloop/internal/taskgraph"
	"github.com/conneroisu/devloop/internal/types"
	"github.com/conneroisu/devloop/internal/watcher"
)

// DevService owns every component of the development loop and runs the
// startup graph: clean, compile all groups in parallel, serve, livereload,
// watch. It then idles until its context is cancelled or a service fails.
type DevService struct {
	*builder

	runner  *taskgraph.Runner
	broker  *reload.Broker
	reload  *server.Listener
	server  *server.DevServer
	watcher *watcher.Watcher

	loopback atomic.Pointer[reload.HTTPSignaler]
	ready    chan struct{}
	exited   chan error
	wg       sync.WaitGroup
}

// NewDevService creates the components for cfg. Nothing is bound or
// compiled until Run.
func NewDevService(cfg *config.Config, opts Options) (*DevService, error) {
	b, err := newBuilder(cfg, opts)
	if err != nil {
		return nil, err
	}

	d := &DevService{
		builder: b,
		runner:  b.newRunner(),
		broker:  reload.NewBroker(b.logger, b.metrics),
		ready:   make(chan struct{}),
		exited:  make(chan error, 1),
	}

	d.reload = server.NewListener("livereload", cfg.ReloadAddr(), d.broker.Routes(), b.logger)
	d.watcher = watcher.New(watcher.Options{
		Root:     cfg.Root,
		Dest:     cfg.Dist,
		Fs:       b.fs,
		Groups:   b.groups,
		Signaler: d,
		Debounce: cfg.Watch.Debounce,
		Ignore:   cfg.Watch.Ignore,
		Logger:   b.logger,
		Metrics:  b.metrics,
	})
	d.server = server.NewDevServer(b.workspace, server.Options{
		Addr:    cfg.ServerAddr(),
		Snippet: reload.Snippet(cfg.Reload.Host, cfg.Reload.Port),
		Status:  d.watcher,
		Logger:  b.logger,
	})
	return d, nil
}

// Graph returns the startup task graph.
func (d *DevService) Graph() taskgraph.Task {
	tasks := d.tasks()
	tasks = append(tasks,
		d.service("serve", d.server.Serve),
		d.service("livereload", d.serveReload),
		d.service("watch", d.watcher.Serve),
	)
	return taskgraph.Sequence("dev", tasks...)
}

// Run executes the startup graph and blocks until ctx is cancelled or a
// running service fails. Every started service is stopped before Run
// returns.
func (d *DevService) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		d.shutdown()
	}()

	if err := d.runner.Run(ctx, d.Graph()); err != nil {
		return err
	}
	close(d.ready)

	d.logger.Info(ctx, "Ready",
		"server", "http://"+d.server.Addr().String(),
		"livereload", "http://"+d.reload.Addr().String(),
		"groups", d.groups.Names())

	select {
	case <-ctx.Done():
		d.logger.Info(ctx, "Shutting down")
		return nil
	case err := <-d.exited:
		d.logger.Error(ctx, err, "Service stopped unexpectedly")
		return err
	}
}

// Ready is closed once every service is running.
func (d *DevService) Ready() <-chan struct{} {
	return d.ready
}

// Signal implements watcher.Signaler. With loopback enabled the event goes
// through the reload listener's /changed endpoint.
func (d *DevService) Signal(ctx context.Context, ev types.ChangeEvent) error {
	if s := d.loopback.Load(); s != nil {
		return s.Signal(ctx, ev)
	}
	return d.broker.Signal(ctx, ev)
}

// service wraps start so that Run can wait for it and learns about failures
// after it became ready.
func (d *DevService) service(name string, start taskgraph.StartFunc) taskgraph.Task {
	run := func(ctx context.Context, ready func()) error {
		d.wg.Add(1)
		defer d.wg.Done()
		return start(ctx, ready)
	}

	return taskgraph.Service(name, run).OnExit(func(err error) {
		if err == nil {
			return
		}
		select {
		case d.exited <- errors.NewTaskError(name, err):
		default:
		}
	})
}

func (d *DevService) serveReload(ctx context.Context, ready func()) error {
	return d.reload.Serve(ctx, func() {
		port := d.reload.Port()
		d.server.SetSnippet(reload.Snippet(d.cfg.Reload.Host, port))
		if d.cfg.Reload.Loopback {
			d.loopback.Store(reload.NewHTTPSignaler(loopbackURL(d.cfg.Reload.Host, port)))
		}
		ready()
	})
}

func (d *DevService) shutdown() {
	d.wg.Wait()
	d.broker.Close()
}

// Server returns the dev server.
func (d *DevService) Server() *server.DevServer {
	return d.server
}

// Reload returns the livereload listener.
func (d *DevService) Reload() *server.Listener {
	return d.reload
}

// Broker returns the reload broker.
func (d *DevService) Broker() *reload.Broker {
	return d.broker
}

// Watcher returns the source watcher.
func (d *DevService) Watcher() *watcher.Watcher {
	return d.watcher
}

func loopbackURL(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port)))
}
