// Package workspace owns the destination directory. Every build starts from a
// full wipe; the first compiler to write recreates the directory.
package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/conneroisu/devloop/internal/errors"
)

// Workspace manages the lifecycle of the destination root.
type Workspace struct {
	fs   afero.Fs
	root string
}

// New creates a workspace on the OS filesystem.
func New(root string) *Workspace {
	return NewWithFs(afero.NewOsFs(), root)
}

// NewWithFs creates a workspace on the given filesystem.
func NewWithFs(fsys afero.Fs, root string) *Workspace {
	return &Workspace{
		fs:   fsys,
		root: filepath.Clean(root),
	}
}

// Root returns the destination path.
func (w *Workspace) Root() string {
	return w.root
}

// Fs returns the filesystem the workspace operates on.
func (w *Workspace) Fs() afero.Fs {
	return w.fs
}

// Reset recursively deletes the destination and leaves the path absent.
// A missing destination is not an error.
func (w *Workspace) Reset() error {
	if _, err := w.fs.Stat(w.root); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError(errors.ErrCodeRemoveFailed, "cannot stat destination", err).WithPath(w.root)
	}

	if err := w.fs.RemoveAll(w.root); err != nil {
		return errors.NewIOError(errors.ErrCodeRemoveFailed, "cannot remove destination", err).WithPath(w.root)
	}

	if _, err := w.fs.Stat(w.root); err == nil {
		return errors.NewIOError(errors.ErrCodeRemoveFailed, "destination still present after removal", nil).WithPath(w.root)
	}

	return nil
}

// Ensure creates the destination if it does not exist yet.
func (w *Workspace) Ensure() error {
	if err := w.fs.MkdirAll(w.root, 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "cannot create destination", err).WithPath(w.root)
	}
	return nil
}

// Exists reports whether the destination is present.
func (w *Workspace) Exists() bool {
	ok, err := afero.DirExists(w.fs, w.root)
	return err == nil && ok
}

// Snapshot digests every file under the destination keyed by its slash
// separated path relative to the root. A missing destination yields an
// empty snapshot.
func (w *Workspace) Snapshot() (map[string]uint64, error) {
	digests := make(map[string]uint64)

	if !w.Exists() {
		return digests, nil
	}

	err := afero.Walk(w.fs, w.root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		data, err := afero.ReadFile(w.fs, path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		digests[filepath.ToSlash(rel)] = xxhash.Sum64(data)
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "cannot snapshot destination", err).WithPath(w.root)
	}

	return digests, nil
}

// Files returns the sorted relative paths of a snapshot.
func Files(snapshot map[string]uint64) []string {
	files := make([]string, 0, len(snapshot))
	for f := range snapshot {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}
