package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/devloop/internal/assets"
	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/logging"
	"github.com/conneroisu/devloop/internal/monitoring"
	"github.com/conneroisu/devloop/internal/types"
)

// Signaler relays change events to reload clients.
type Signaler interface {
	Signal(ctx context.Context, ev types.ChangeEvent) error
}

// CompileFunc rebuilds one asset group.
type CompileFunc func(ctx context.Context) error

// SubscriptionConfig configures a Subscription.
type SubscriptionConfig struct {
	Compile  CompileFunc
	Signaler Signaler
	Debounce time.Duration
	Logger   logging.Logger
	Metrics  *monitoring.Metrics
}

// Subscription drives one asset group through Idle, Compiling and Failed.
// Changes restart the debounce timer; when it fires a compile starts unless
// one is in flight, in which case a single follow-up compile is queued.
type Subscription struct {
	group    *assets.Group
	compile  CompileFunc
	signaler Signaler
	debounce time.Duration
	logger   logging.Logger
	metrics  *monitoring.Metrics
	errs     *errors.Handler

	ctx context.Context
	wg  sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	state       types.GroupState
	pending     bool
	timer       *time.Timer
	compiles    int
	failures    int
	lastErr     string
	lastSuccess time.Time
}

// NewSubscription creates an idle subscription. Compiles run with ctx and
// stop being scheduled once it is done.
func NewSubscription(ctx context.Context, group *assets.Group, cfg SubscriptionConfig) *Subscription {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("watcher").With("group", group.Name)

	return &Subscription{
		group:    group,
		compile:  cfg.Compile,
		signaler: cfg.Signaler,
		debounce: cfg.Debounce,
		logger:   logger,
		metrics:  cfg.Metrics,
		errs:     errors.NewHandler(logger),
		ctx:      ctx,
		state:    types.StateIdle,
	}
}

// Group returns the subscribed asset group.
func (s *Subscription) Group() *assets.Group {
	return s.group
}

// Notify records a filesystem change and restarts the quiet period.
func (s *Subscription) Notify() {
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

// fire runs when the quiet period ends.
func (s *Subscription) fire() {
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.state == types.StateCompiling {
		if !s.pending {
			s.pending = true
			s.metrics.IncCoalesced(s.group.Name)
		}
		s.mu.Unlock()
		return
	}
	s.state = types.StateCompiling
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.run()
}

// run compiles until no change is pending. The caller has already moved
// the subscription to Compiling.
func (s *Subscription) run() {
	for {
		start := time.Now()
		op := logging.StartOperation(s.logger, "compile")
		err := s.compile(s.ctx)
		s.metrics.ObserveCompile(s.group.Name, time.Since(start), err)

		s.mu.Lock()
		s.compiles++
		if err != nil {
			s.state = types.StateFailed
			s.failures++
			s.lastErr = err.Error()
			if diag := errors.Diagnostic(err); diag != "" {
				s.lastErr += "\n" + diag
			}
		} else {
			s.state = types.StateIdle
			s.lastErr = ""
			s.lastSuccess = time.Now()
		}
		again := s.pending && !s.closed && s.ctx.Err() == nil
		s.pending = false
		if again {
			s.state = types.StateCompiling
		}
		s.mu.Unlock()

		if err != nil {
			s.errs.Handle(s.ctx, err)
		} else {
			op.End(s.ctx)
			s.signal()
		}

		if !again {
			return
		}
	}
}

func (s *Subscription) signal() {
	if s.signaler == nil {
		return
	}
	ev := types.NewChangeEvent(s.group.Class, s.group.Name)
	if err := s.signaler.Signal(s.ctx, ev); err != nil {
		s.errs.Handle(s.ctx, err)
	}
}

// Status returns a snapshot of the subscription.
func (s *Subscription) Status() types.GroupStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return types.GroupStatus{
		Name:        s.group.Name,
		Class:       s.group.Class,
		State:       s.state,
		Pending:     s.pending,
		Compiles:    s.compiles,
		Failures:    s.failures,
		LastError:   s.lastErr,
		LastSuccess: s.lastSuccess,
	}
}

// Close cancels a scheduled compile and waits for the one in flight.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
