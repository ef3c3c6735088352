// Package services wires the devloop components together. DevService runs
// the full development loop, BuildService performs a one-shot build and
// InitService lays out a starter project.
package services

import (
	"context"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/devloop/internal/assets"
	"github.com/conneroisu/devloop/internal/config"
	"github.com/conneroisu/devloop/internal/logging"
	"github.com/conneroisu/devloop/internal/monitoring"
	"github.com/conneroisu/devloop/internal/taskgraph"
	"github.com/conneroisu/devloop/internal/workspace"
)

// Options carries the collaborators shared by every service.
type Options struct {
	Logger  logging.Logger
	Metrics *monitoring.Metrics
	// Fs is the filesystem for sources and destination. Defaults to the OS.
	Fs afero.Fs
	// TracerProvider receives a span per task. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// builder cleans the destination and compiles every asset group.
type builder struct {
	cfg       *config.Config
	fs        afero.Fs
	logger    logging.Logger
	metrics   *monitoring.Metrics
	tracing   trace.TracerProvider
	workspace *workspace.Workspace
	groups    *assets.Set
}

func newBuilder(cfg *config.Config, opts Options) (*builder, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	groups, err := assets.FromConfig(cfg, opts.Fs)
	if err != nil {
		return nil, err
	}

	return &builder{
		cfg:       cfg,
		fs:        opts.Fs,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracing:   opts.TracerProvider,
		workspace: workspace.NewWithFs(opts.Fs, cfg.Dist),
		groups:    groups,
	}, nil
}

func (b *builder) newRunner() *taskgraph.Runner {
	runner := taskgraph.NewRunner(b.logger)
	if b.tracing != nil {
		runner.WithTracer(b.tracing.Tracer(taskgraph.TracerName))
	}
	return runner
}

// tasks returns the clean step followed by one parallel compile per group,
// preceded by the groups' setup commands when any are configured.
func (b *builder) tasks() []taskgraph.Task {
	var setups []taskgraph.Task
	compiles := make([]taskgraph.Task, 0, b.groups.Len())
	for _, g := range b.groups.All() {
		g := g
		if g.Setup != nil {
			setups = append(setups, taskgraph.Func("setup_"+g.Name, func(ctx context.Context) error {
				b.logger.Info(ctx, "Running setup", "group", g.Name, "command", g.Setup.String())
				return g.Setup.Run(ctx)
			}))
		}
		compiles = append(compiles, taskgraph.Func("compile_"+g.Name, func(ctx context.Context) error {
			return b.compile(ctx, g)
		}))
	}

	var tasks []taskgraph.Task
	if len(setups) > 0 {
		tasks = append(tasks, taskgraph.Parallel("setup", setups...))
	}
	return append(tasks,
		taskgraph.Func("clean", b.clean),
		taskgraph.Parallel("compile", compiles...),
	)
}

func (b *builder) clean(ctx context.Context) error {
	b.logger.Info(ctx, "Cleaning destination", "dist", b.workspace.Root())
	return b.workspace.Reset()
}

func (b *builder) compile(ctx context.Context, g *assets.Group) error {
	op := logging.StartOperation(b.logger.With("group", g.Name), "compile")
	start := time.Now()

	err := g.Compile(ctx, b.fs, b.cfg.Root, b.cfg.Dist)
	b.metrics.ObserveCompile(g.Name, time.Since(start), err)
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	op.End(ctx)
	return nil
}

// Groups returns the configured asset groups.
func (b *builder) Groups() *assets.Set {
	return b.groups
}

// Workspace returns the destination workspace.
func (b *builder) Workspace() *workspace.Workspace {
	return b.workspace
}

// BuildService performs a clean build of every asset group and exits.
type BuildService struct {
	*builder
	runner *taskgraph.Runner
}

// BuildResult describes a finished build.
type BuildResult struct {
	Duration time.Duration
	// Outputs maps destination-relative paths to content digests.
	Outputs map[string]uint64
}

// Files returns the output paths in sorted order.
func (r *BuildResult) Files() []string {
	return workspace.Files(r.Outputs)
}

// NewBuildService creates a build service for cfg.
func NewBuildService(cfg *config.Config, opts Options) (*BuildService, error) {
	b, err := newBuilder(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &BuildService{
		builder: b,
		runner:  b.newRunner(),
	}, nil
}

// Build wipes the destination, compiles all groups in parallel and returns
// the digests of the produced files.
func (s *BuildService) Build(ctx context.Context) (*BuildResult, error) {
	start := time.Now()

	if err := s.runner.Run(ctx, taskgraph.Sequence("build", s.tasks()...)); err != nil {
		return nil, err
	}

	outputs, err := s.workspace.Snapshot()
	if err != nil {
		return nil, err
	}

	result := &BuildResult{Duration: time.Since(start), Outputs: outputs}
	s.logger.Info(ctx, "Build finished",
		"files", len(outputs),
		"duration", result.Duration.String())
	return result, nil
}
