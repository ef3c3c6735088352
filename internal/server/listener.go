package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/logging"
)

const readHeaderTimeout = 10 * time.Second

// Listener binds an address and serves a handler in the background. Both the
// dev server and the reload listener run on it.
type Listener struct {
	name    string
	addr    string
	handler http.Handler
	logger  logging.Logger

	mu         sync.RWMutex
	httpServer *http.Server
	bound      net.Addr
	done       chan error

	shutdownOnce sync.Once
}

// NewListener creates a listener for addr. Port 0 picks a free port.
func NewListener(name, addr string, handler http.Handler, logger logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Listener{
		name:    name,
		addr:    addr,
		handler: handler,
		logger:  logger.WithComponent(name),
	}
}

// Listen binds the address and starts serving. Bind failures are returned as
// bind errors; serving continues until Shutdown.
func (l *Listener) Listen(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", l.addr)
	if err != nil {
		return errors.NewBindError(l.addr, err).WithContext("listener", l.name)
	}

	srv := &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	done := make(chan error, 1)

	l.mu.Lock()
	l.httpServer = srv
	l.bound = ln.Addr()
	l.done = done
	l.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		done <- err
		close(done)
	}()

	l.logger.Info(ctx, "Listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bound
}

// Port returns the bound TCP port, or 0 before Listen.
func (l *Listener) Port() int {
	if tcp, ok := l.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Done is closed once serving stopped. It carries a serve error, if any.
func (l *Listener) Done() <-chan error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.done
}

// Shutdown stops accepting connections and waits for active requests.
func (l *Listener) Shutdown(ctx context.Context) error {
	var err error
	l.shutdownOnce.Do(func() {
		l.mu.RLock()
		srv := l.httpServer
		l.mu.RUnlock()

		if srv == nil {
			return
		}
		err = srv.Shutdown(ctx)
		l.logger.Debug(ctx, "Listener stopped")
	})
	return err
}

// Serve binds, signals ready and serves until ctx is done. It is the start
// function of the serve and reload services.
func (l *Listener) Serve(ctx context.Context, ready func()) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	ready()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return l.Shutdown(shutdownCtx)
	case err := <-l.Done():
		return err
	}
}
