package types

import "time"

// GroupState is the watch state of an asset group.
type GroupState string

const (
	StateIdle      GroupState = "idle"
	StateCompiling GroupState = "compiling"
	StateFailed    GroupState = "failed"
)

// GroupStatus is a point-in-time view of one asset group's subscription.
type GroupStatus struct {
	Name        string
	Class       ChangeClass
	State       GroupState
	Pending     bool
	Compiles    int
	Failures    int
	LastError   string
	LastSuccess time.Time
}

// StatusReporter exposes group statuses to the dev server.
type StatusReporter interface {
	Statuses() []GroupStatus
}
