// Package taskgraph composes named startup steps into sequential and parallel
// groups and runs them once.
//
// Long-running steps are expressed as services: a service task completes as
// soon as its start function reports readiness and keeps running in the
// background afterwards.
package taskgraph

import (
	"context"
	"sync"
)

// Task is a named unit of work.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

// Func wraps a function as a task.
func Func(name string, fn func(ctx context.Context) error) Task {
	return &funcTask{name: name, fn: fn}
}

func (t *funcTask) Name() string { return t.name }

func (t *funcTask) Run(ctx context.Context) error { return t.fn(ctx) }

// StartFunc starts a long-running service. It must call ready once the
// service accepts work, then block until ctx is done or the service fails.
type StartFunc func(ctx context.Context, ready func()) error

// ServiceTask is a task that counts as done once its service is ready.
type ServiceTask struct {
	name   string
	start  StartFunc
	onExit func(error)
}

// Service creates a service task.
func Service(name string, start StartFunc) *ServiceTask {
	return &ServiceTask{name: name, start: start}
}

// OnExit registers a callback receiving the result of a service that stops
// after it became ready.
func (s *ServiceTask) OnExit(fn func(error)) *ServiceTask {
	s.onExit = fn
	return s
}

// Name implements Task.
func (s *ServiceTask) Name() string { return s.name }

// Run starts the service and returns once it is ready. A service that stops
// before becoming ready returns its error.
func (s *ServiceTask) Run(ctx context.Context) error {
	readyCh := make(chan struct{})
	var once sync.Once
	ready := func() { once.Do(func() { close(readyCh) }) }

	done := make(chan error, 1)
	go func() {
		done <- s.start(ctx, ready)
	}()

	select {
	case <-readyCh:
		go s.wait(done)
		return nil
	case err := <-done:
		select {
		case <-readyCh:
			s.exit(err)
			return nil
		default:
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ServiceTask) wait(done <-chan error) {
	s.exit(<-done)
}

func (s *ServiceTask) exit(err error) {
	if s.onExit != nil {
		s.onExit(err)
	}
}
