package assets

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/conneroisu/devloop/internal/build"
	"github.com/conneroisu/devloop/internal/config"
	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/types"
)

// Set is the mapping from group name to compile behaviour.
type Set struct {
	groups map[string]*Group
	names  []string
}

// NewSet builds a set, rejecting unnamed and duplicate groups.
func NewSet(groups ...*Group) (*Set, error) {
	s := &Set{groups: make(map[string]*Group, len(groups))}
	for _, g := range groups {
		if g == nil || g.Name == "" {
			return nil, errors.NewConfigError("asset group without a name", nil)
		}
		if _, ok := s.groups[g.Name]; ok {
			return nil, errors.NewConfigError(fmt.Sprintf("duplicate asset group %q", g.Name), nil)
		}
		s.groups[g.Name] = g
		s.names = append(s.names, g.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Get returns the named group.
func (s *Set) Get(name string) (*Group, bool) {
	g, ok := s.groups[name]
	return g, ok
}

// Names returns the group names in sorted order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// All returns the groups sorted by name.
func (s *Set) All() []*Group {
	out := make([]*Group, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.groups[name])
	}
	return out
}

// Len returns the number of groups.
func (s *Set) Len() int {
	return len(s.names)
}

// Match returns the groups whose watch globs match a path relative to the
// project root.
func (s *Set) Match(rel string) []*Group {
	var out []*Group
	for _, name := range s.names {
		if g := s.groups[name]; g.Matches(rel) {
			out = append(out, g)
		}
	}
	return out
}

// FromConfig creates the groups described by the assets section.
func FromConfig(cfg *config.Config, fsys afero.Fs) (*Set, error) {
	groups := make([]*Group, 0, len(cfg.Assets))
	for name, ac := range cfg.Assets {
		g, err := groupFromConfig(cfg, fsys, name, ac)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return NewSet(groups...)
}

func groupFromConfig(cfg *config.Config, fsys afero.Fs, name string, ac config.AssetConfig) (*Group, error) {
	class, err := types.ParseChangeClass(ac.Change)
	if err != nil {
		return nil, errors.NewConfigError("invalid change class", err).WithContext("group", name)
	}

	var unit build.Unit
	switch ac.Compiler {
	case config.CompilerCommand:
		unit = build.NewCommand(name, ac.Command, ac.Args, cfg.Root, ac.Output)
	case config.CompilerConcat:
		unit = build.NewConcat(fsys, name, ac.Output)
	case config.CompilerTemplate:
		locals := ac.Locals
		if locals != "" && !filepath.IsAbs(locals) {
			locals = filepath.Join(cfg.Root, locals)
		}
		unit = build.NewTemplate(fsys, name, ac.Output, locals).WithEntry(ac.Entry)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unknown compiler %q", ac.Compiler), nil).
			WithContext("group", name)
	}

	g := &Group{
		Name:    name,
		Sources: append([]string(nil), ac.Sources...),
		Watch:   append([]string(nil), ac.Watch...),
		Unit:    unit,
		Class:   class,
		Output:  ac.Output,
	}
	if len(ac.Setup) > 0 {
		g.Setup = build.NewCommand(name, ac.Setup[0], ac.Setup[1:], cfg.Root, "")
	}
	return g, nil
}
