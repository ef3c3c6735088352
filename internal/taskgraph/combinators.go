package taskgraph

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type sequence struct {
	name  string
	tasks []Task
}

// Sequence runs tasks in order. The first failure stops the sequence and is
// returned; later tasks never start.
func Sequence(name string, tasks ...Task) Task {
	return &sequence{name: name, tasks: tasks}
}

func (s *sequence) Name() string { return s.name }

func (s *sequence) Run(ctx context.Context) error {
	for _, t := range s.tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := execute(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

type parallel struct {
	name  string
	tasks []Task
}

// Parallel starts every task at once. It returns the first failure as soon as
// it is reported, leaving slower members running unobserved, or nil once all
// members complete.
func Parallel(name string, tasks ...Task) Task {
	return &parallel{name: name, tasks: tasks}
}

func (p *parallel) Name() string { return p.name }

func (p *parallel) Run(ctx context.Context) error {
	failures := make(chan error, len(p.tasks))

	var g errgroup.Group
	for _, t := range p.tasks {
		g.Go(func() error {
			err := execute(ctx, t)
			if err != nil {
				failures <- err
			}
			return err
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case err := <-failures:
		return err
	case <-done:
		select {
		case err := <-failures:
			return err
		default:
			return nil
		}
	}
}
