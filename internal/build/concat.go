package build

import (
	"bytes"
	"context"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/conneroisu/devloop/internal/errors"
)

// Concat joins its sources in lexical path order into a single output file.
// It is the built-in compiler for plain script and stylesheet groups.
type Concat struct {
	fs     afero.Fs
	group  string
	output string
}

// NewConcat creates a concatenating unit writing dest/output.
func NewConcat(fsys afero.Fs, group, output string) *Concat {
	return &Concat{fs: fsys, group: group, output: output}
}

// Compile implements Unit.
func (c *Concat) Compile(ctx context.Context, sources []string, dest string) error {
	if len(sources) == 0 {
		return noSources(c.group)
	}

	ordered := append([]string(nil), sources...)
	sort.Strings(ordered)

	var buf bytes.Buffer
	for _, src := range ordered {
		if err := ctx.Err(); err != nil {
			return errors.NewCompileError(c.group, "compile cancelled", "", err)
		}

		data, err := afero.ReadFile(c.fs, src)
		if err != nil {
			return errors.NewCompileError(c.group, "cannot read source", err.Error(), err).WithPath(src)
		}

		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	return writeAtomic(c.fs, c.group, filepath.Join(dest, c.output), buf.Bytes())
}

func noSources(group string) error {
	err := errors.NewCompileError(group, "no source files matched", "", nil)
	err.Code = errors.ErrCodeNoSources
	return err
}

// writeAtomic writes through a temporary file and a rename so the dev server
// never serves a half-written output.
func writeAtomic(fsys afero.Fs, group, target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "cannot create output directory", err).WithPath(dir)
	}

	tmp, err := afero.TempFile(fsys, dir, ".devloop-"+group+"-*")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "cannot create temporary output", err).WithPath(dir)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fsys.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, "cannot write output", err).WithPath(target)
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, "cannot close output", err).WithPath(target)
	}

	if err := fsys.Rename(tmpName, target); err != nil {
		_ = fsys.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, "cannot move output into place", err).WithPath(target)
	}

	return nil
}
