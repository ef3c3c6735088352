// Package types provides common type definitions used throughout devloop.
// This package contains shared types to avoid circular dependencies between packages.
package types

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ChangeClass tells a browser how to react to a rebuilt asset group.
type ChangeClass int

const (
	// FullReload asks the client to reload the document.
	FullReload ChangeClass = iota
	// StylePatch asks the client to re-fetch stylesheets only.
	StylePatch
)

// Logical files relayed to clients for each class.
const (
	FullReloadFile = "index.html"
	StylePatchFile = "index.css"
)

// String returns the config spelling of the class.
func (c ChangeClass) String() string {
	switch c {
	case FullReload:
		return "full"
	case StylePatch:
		return "style"
	default:
		return "unknown"
	}
}

// File returns the logical file name announced for the class.
func (c ChangeClass) File() string {
	if c == StylePatch {
		return StylePatchFile
	}
	return FullReloadFile
}

// ParseChangeClass parses "full" or "style".
func ParseChangeClass(s string) (ChangeClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "reload":
		return FullReload, nil
	case "style", "css":
		return StylePatch, nil
	default:
		return FullReload, fmt.Errorf("unknown change class %q", s)
	}
}

// ClassForFile picks the change class for a changed file name: stylesheets
// patch, everything else reloads.
func ClassForFile(file string) ChangeClass {
	if strings.EqualFold(path.Ext(file), ".css") {
		return StylePatch
	}
	return FullReload
}

// ChangeEvent is produced after a successful recompile and relayed to every
// connected reload client.
type ChangeEvent struct {
	Class ChangeClass
	// Group is the asset group that was rebuilt, empty for external triggers.
	Group string
	// Path is the logical file announced to clients.
	Path string
	Time time.Time
}

// NewChangeEvent builds an event whose path defaults from the class.
func NewChangeEvent(class ChangeClass, group string) ChangeEvent {
	return ChangeEvent{
		Class: class,
		Group: group,
		Path:  class.File(),
		Time:  time.Now(),
	}
}

// File returns the announced path, falling back to the class default.
func (e ChangeEvent) File() string {
	if e.Path != "" {
		return e.Path
	}
	return e.Class.File()
}
