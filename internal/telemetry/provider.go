// Package telemetry reports task graph spans through the devloop logger.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/conneroisu/devloop/internal/logging"
)

// LogProcessor implements sdktrace.SpanProcessor by logging every ended span.
type LogProcessor struct {
	logger logging.Logger
}

// NewLogProcessor returns a processor writing to logger.
func NewLogProcessor(logger logging.Logger) *LogProcessor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LogProcessor{logger: logger.WithComponent("trace")}
}

// OnStart does nothing; spans are reported once they end.
func (p *LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd logs the span with its ids and duration. Failed spans are logged
// as warnings carrying the status description.
func (p *LogProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	sc := s.SpanContext()
	if !sc.IsValid() {
		return
	}

	fields := []interface{}{
		"span", s.Name(),
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
		"duration", s.EndTime().Sub(s.StartTime()).String(),
	}
	if parent := s.Parent(); parent.IsValid() {
		fields = append(fields, "parent_id", parent.SpanID().String())
	}

	if s.Status().Code == codes.Error {
		desc := s.Status().Description
		if desc == "" {
			desc = "task failed"
		}
		p.logger.Warn(context.Background(), errors.New(desc), "Span failed", fields...)
		return
	}
	p.logger.Info(context.Background(), "Span ended", fields...)
}

// ForceFlush does nothing.
func (p *LogProcessor) ForceFlush(context.Context) error {
	return nil
}

// Shutdown does nothing.
func (p *LogProcessor) Shutdown(context.Context) error {
	return nil
}

// NewProvider creates a tracer provider whose spans go to logger.
// Callers shut it down when the command ends.
func NewProvider(logger logging.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(NewLogProcessor(logger)),
	)
}
