// Package reload implements the live-reload broker: the set of connected
// browser clients, the broadcast of change events to them, and the HTTP
// endpoints of the reload listener.
package reload

import (
	"context"
	"sort"
	"sync"

	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/logging"
	"github.com/conneroisu/devloop/internal/monitoring"
	"github.com/conneroisu/devloop/internal/types"
)

// Connection is one subscribed browser client. Deliver must not block; a
// client that cannot accept a frame returns an error and is dropped.
type Connection interface {
	ID() string
	Deliver(frame []byte) error
	Close()
}

// Broker owns the connection set and relays change events to it.
type Broker struct {
	mu    sync.RWMutex
	conns map[string]Connection

	logger  logging.Logger
	metrics *monitoring.Metrics
	errs    *errors.Handler
}

// NewBroker creates an empty broker. metrics may be nil.
func NewBroker(logger logging.Logger, metrics *monitoring.Metrics) *Broker {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("reload")
	return &Broker{
		conns:   make(map[string]Connection),
		logger:  logger,
		metrics: metrics,
		errs:    errors.NewHandler(logger),
	}
}

// Add registers a connection.
func (b *Broker) Add(c Connection) {
	b.mu.Lock()
	b.conns[c.ID()] = c
	n := len(b.conns)
	b.mu.Unlock()

	b.metrics.SetConnections(n)
	b.logger.Debug(context.Background(), "Client connected", "client", c.ID(), "clients", n)
}

// Remove unregisters a connection. It reports whether the connection was a
// member.
func (b *Broker) Remove(id string) bool {
	b.mu.Lock()
	_, ok := b.conns[id]
	delete(b.conns, id)
	n := len(b.conns)
	b.mu.Unlock()

	if ok {
		b.metrics.SetConnections(n)
		b.logger.Debug(context.Background(), "Client disconnected", "client", id, "clients", n)
	}
	return ok
}

// Count returns the number of connected clients.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Clients returns the connected client ids in sorted order.
func (b *Broker) Clients() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.conns))
	for id := range b.conns {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Broadcast delivers ev to every connected client and returns the number of
// successful deliveries. Clients that fail are dropped; their failure never
// reaches the caller.
func (b *Broker) Broadcast(ctx context.Context, ev types.ChangeEvent) int {
	frame, err := ReloadMessage(ev).Encode()
	if err != nil {
		b.logger.Error(ctx, err, "Cannot encode reload message")
		return 0
	}

	b.mu.RLock()
	snapshot := make([]Connection, 0, len(b.conns))
	for _, c := range b.conns {
		snapshot = append(snapshot, c)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range snapshot {
		if err := c.Deliver(frame); err != nil {
			b.drop(ctx, c, err)
			continue
		}
		delivered++
	}

	b.metrics.IncBroadcast(ev.Class.String())
	b.logger.Info(ctx, "Change broadcast",
		"class", ev.Class.String(),
		"path", ev.File(),
		"group", ev.Group,
		"clients", delivered)

	return delivered
}

// Signal implements the watcher's signalling contract in process.
func (b *Broker) Signal(ctx context.Context, ev types.ChangeEvent) error {
	b.Broadcast(ctx, ev)
	return nil
}

// Close disconnects every client.
func (b *Broker) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[string]Connection)
	b.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	b.metrics.SetConnections(0)
}

func (b *Broker) drop(ctx context.Context, c Connection, cause error) {
	if b.Remove(c.ID()) {
		b.metrics.IncDropped()
	}
	c.Close()
	b.errs.Handle(ctx, errors.NewBroadcastError(c.ID(), cause))
}
