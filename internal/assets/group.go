// Package assets defines asset groups: named bindings of source globs, watch
// globs, a compile unit and the change class clients receive after a rebuild.
package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/conneroisu/devloop/internal/build"
	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/types"
)

// Group is one compilable unit of source assets.
type Group struct {
	Name    string
	Sources []string
	Watch   []string
	Unit    build.Unit
	Class   types.ChangeClass
	Output  string
	// Setup runs once before the initial build. Optional.
	Setup *build.Command
}

// WatchPatterns returns the globs whose changes trigger a rebuild. Groups
// without explicit watch globs rebuild on changes to their sources.
func (g *Group) WatchPatterns() []string {
	if len(g.Watch) > 0 {
		return g.Watch
	}
	return g.Sources
}

// Matches reports whether a path relative to the project root belongs to the
// group's watch set.
func (g *Group) Matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range g.WatchPatterns() {
		if Match(pattern, rel) {
			return true
		}
	}
	return false
}

// WatchRoots returns the absolute directories to observe, deduplicated and
// sorted.
func (g *Group) WatchRoots(root string) []string {
	seen := make(map[string]struct{})
	var roots []string
	for _, pattern := range g.WatchPatterns() {
		dir := filepath.Join(root, filepath.FromSlash(Base(pattern)))
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		roots = append(roots, dir)
	}
	sort.Strings(roots)
	return roots
}

// Resolve expands the source globs against root and returns the matching
// files as sorted absolute paths.
func (g *Group) Resolve(fsys afero.Fs, root string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string

	for _, pattern := range g.Sources {
		base := filepath.Join(root, filepath.FromSlash(Base(pattern)))
		err := afero.Walk(fsys, base, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if !Match(pattern, filepath.ToSlash(rel)) {
				return nil
			}
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeReadFailed, "cannot resolve sources", err).
				WithPath(base).
				WithContext("group", g.Name)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Compile resolves the group's sources and runs its unit into dest. Every
// failure is reported as a compile error for the group.
func (g *Group) Compile(ctx context.Context, fsys afero.Fs, root, dest string) error {
	if g.Unit == nil {
		return errors.NewCompileError(g.Name, "no compile unit configured", "", nil)
	}

	sources, err := g.Resolve(fsys, root)
	if err != nil {
		return errors.NewCompileError(g.Name, "cannot resolve sources", err.Error(), err)
	}
	if len(sources) == 0 {
		compileErr := errors.NewCompileError(g.Name, fmt.Sprintf("no files match %v", g.Sources), "", nil)
		compileErr.Code = errors.ErrCodeNoSources
		return compileErr
	}

	if err := g.Unit.Compile(ctx, sources, dest); err != nil {
		if errors.IsKind(err, errors.KindCompile) {
			return err
		}
		return errors.NewCompileError(g.Name, "compile failed", errors.Diagnostic(err), err)
	}
	return nil
}

// String returns the group name.
func (g *Group) String() string {
	return g.Name
}
