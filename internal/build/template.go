package build

import (
	"bytes"
	"context"
	"html/template"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/devloop/internal/errors"
)

// Template renders the markup entry document. The entry is the first source,
// or the source named by WithEntry; the remaining sources are parsed as
// associated templates so the entry can {{template}} them. Locals are read
// from an optional YAML document.
type Template struct {
	fs     afero.Fs
	group  string
	output string
	entry  string
	locals string
}

// NewTemplate creates a markup unit. An empty output is derived from the
// entry file name with its template extension replaced by .html.
func NewTemplate(fsys afero.Fs, group, output, locals string) *Template {
	return &Template{fs: fsys, group: group, output: output, locals: locals}
}

// WithEntry pins the entry document by base name.
func (t *Template) WithEntry(name string) *Template {
	t.entry = name
	return t
}

// Compile implements Unit.
func (t *Template) Compile(ctx context.Context, sources []string, dest string) error {
	if len(sources) == 0 {
		return noSources(t.group)
	}

	entry := t.pickEntry(sources)

	root, err := t.parse(entry, nil)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if src == entry {
			continue
		}
		if _, err := t.parse(src, root); err != nil {
			return err
		}
	}

	locals, err := t.loadLocals()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return errors.NewCompileError(t.group, "compile cancelled", "", err)
	}

	var buf bytes.Buffer
	if err := root.Execute(&buf, locals); err != nil {
		return errors.NewCompileError(t.group, "cannot render template", err.Error(), err).WithPath(entry)
	}

	return writeAtomic(t.fs, t.group, filepath.Join(dest, t.outputName(entry)), buf.Bytes())
}

func (t *Template) pickEntry(sources []string) string {
	if t.entry != "" {
		for _, src := range sources {
			if filepath.Base(src) == t.entry {
				return src
			}
		}
	}
	return sources[0]
}

func (t *Template) parse(path string, root *template.Template) (*template.Template, error) {
	data, err := afero.ReadFile(t.fs, path)
	if err != nil {
		return nil, errors.NewCompileError(t.group, "cannot read source", err.Error(), err).WithPath(path)
	}

	var tmpl *template.Template
	if root == nil {
		tmpl = template.New(filepath.Base(path))
	} else {
		tmpl = root.New(filepath.Base(path))
	}

	if _, err := tmpl.Parse(string(data)); err != nil {
		return nil, errors.NewCompileError(t.group, "cannot parse template", err.Error(), err).WithPath(path)
	}
	return tmpl, nil
}

func (t *Template) loadLocals() (map[string]interface{}, error) {
	locals := make(map[string]interface{})
	if t.locals == "" {
		return locals, nil
	}

	data, err := afero.ReadFile(t.fs, t.locals)
	if err != nil {
		return nil, errors.NewCompileError(t.group, "cannot read locals", err.Error(), err).WithPath(t.locals)
	}
	if err := yaml.Unmarshal(data, &locals); err != nil {
		return nil, errors.NewCompileError(t.group, "cannot parse locals", err.Error(), err).WithPath(t.locals)
	}
	return locals, nil
}

func (t *Template) outputName(entry string) string {
	if t.output != "" {
		return t.output
	}
	base := filepath.Base(entry)
	for _, ext := range []string{".tmpl", ".gohtml", ".html"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base + ".html"
}
