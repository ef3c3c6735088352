package taskgraph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/logging"
)

// TracerName is the instrumentation name of task spans.
const TracerName = "github.com/conneroisu/devloop/internal/taskgraph"

type runnerKey struct{}

// Runner executes a task graph, tracing and logging every task.
type Runner struct {
	logger logging.Logger
	tracer trace.Tracer
}

// NewRunner creates a runner using the global tracer provider.
func NewRunner(logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		logger: logger.WithComponent("taskgraph"),
		tracer: otel.Tracer(TracerName),
	}
}

// WithTracer replaces the tracer. Every executed task, nested ones
// included, becomes a span; failed tasks end with an error status.
func (r *Runner) WithTracer(tracer trace.Tracer) *Runner {
	r.tracer = tracer
	return r
}

// Run executes root once. A failure is logged with its diagnostic and
// returned as a task error naming the innermost failed task.
func (r *Runner) Run(ctx context.Context, root Task) error {
	ctx = context.WithValue(ctx, runnerKey{}, r)

	err := r.execute(ctx, root)
	if err != nil {
		fields := []interface{}{"task", root.Name()}
		if d := errors.Diagnostic(err); d != "" {
			fields = append(fields, "diagnostic", d)
		}
		r.logger.Error(ctx, err, "Task graph failed", fields...)
	}
	return err
}

func (r *Runner) execute(ctx context.Context, t Task) error {
	ctx, span := r.tracer.Start(ctx, t.Name(), trace.WithAttributes(attribute.String("devloop.task", t.Name())))
	defer span.End()

	start := time.Now()
	r.logger.Debug(ctx, "Task started", "task", t.Name())

	err := wrap(t, t.Run(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug(ctx, "Task failed", "task", t.Name(), "duration", time.Since(start).String())
		return err
	}

	r.logger.Debug(ctx, "Task finished", "task", t.Name(), "duration", time.Since(start).String())
	return nil
}

// execute runs a child task through the runner carried by ctx, if any.
func execute(ctx context.Context, t Task) error {
	if r, ok := ctx.Value(runnerKey{}).(*Runner); ok {
		return r.execute(ctx, t)
	}
	return wrap(t, t.Run(ctx))
}

func wrap(t Task, err error) error {
	if err == nil || errors.IsKind(err, errors.KindTask) {
		return err
	}
	return errors.NewTaskError(t.Name(), err)
}
