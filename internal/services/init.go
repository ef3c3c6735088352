package services

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/conneroisu/devloop/internal/errors"
)

// ConfigFileName is the project configuration file written by init and
// read by default.
const ConfigFileName = ".devloop.yml"

const starterConfig = `# devloop configuration. Every key is optional; the values below are the
# defaults. Environment variables override them with the DEVLOOP_ prefix,
# for example DEVLOOP_SERVER_PORT=3000.
dist: dist
server:
  port: 8080
reload:
  port: 35729
watch:
  debounce: 150ms
log:
  level: info
`

var starterSources = map[string]string{
	"src/elm/Main.elm": `module Main exposing (main)

import Html exposing (Html, h1, text)


main : Html msg
main =
    h1 [] [ text "Hello from devloop" ]
`,
	"src/stylus/index.styl": `body
  font-family sans-serif
  margin 0
  padding 2rem
`,
	"src/index.pug": `doctype html
html
  head
    meta(charset="utf-8")
    title devloop
    link(rel="stylesheet" href="/index.css")
  body
    #app
    script(src="/bundle.js")
    script.
      Elm.Main.init({ node: document.getElementById('app') })
`,
}

// InitService lays out a starter project matching the default asset groups.
type InitService struct {
	fs afero.Fs
}

// NewInitService creates an init service writing to the OS filesystem.
func NewInitService() *InitService {
	return &InitService{fs: afero.NewOsFs()}
}

// NewInitServiceWithFs creates an init service writing to fsys.
func NewInitServiceWithFs(fsys afero.Fs) *InitService {
	return &InitService{fs: fsys}
}

// InitOptions contains options for project initialization.
type InitOptions struct {
	ProjectDir string
	// Minimal writes only the configuration file.
	Minimal bool
	// Force overwrites existing files.
	Force bool
}

// InitResult lists what InitProject wrote and what it left alone.
type InitResult struct {
	Created []string
	Skipped []string
}

// InitProject writes the configuration file and, unless minimal, starter
// sources for the script, style and markup groups. Existing files are kept
// unless Force is set.
func (s *InitService) InitProject(opts InitOptions) (*InitResult, error) {
	if err := s.fs.MkdirAll(opts.ProjectDir, 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "cannot create project directory", err).
			WithPath(opts.ProjectDir)
	}

	files := map[string]string{ConfigFileName: starterConfig}
	if !opts.Minimal {
		for name, content := range starterSources {
			files[name] = content
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	result := &InitResult{}
	for _, name := range names {
		written, err := s.writeFile(filepath.Join(opts.ProjectDir, filepath.FromSlash(name)), files[name], opts.Force)
		if err != nil {
			return nil, err
		}
		if written {
			result.Created = append(result.Created, name)
		} else {
			result.Skipped = append(result.Skipped, name)
		}
	}
	return result, nil
}

func (s *InitService) writeFile(path, content string, force bool) (bool, error) {
	if !force {
		exists, err := afero.Exists(s.fs, path)
		if err != nil {
			return false, errors.NewIOError(errors.ErrCodeReadFailed, "cannot stat file", err).WithPath(path)
		}
		if exists {
			return false, nil
		}
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, errors.NewIOError(errors.ErrCodeWriteFailed, "cannot create directory", err).
			WithPath(filepath.Dir(path))
	}
	if err := afero.WriteFile(s.fs, path, []byte(content), os.FileMode(0o644)); err != nil {
		return false, errors.NewIOError(errors.ErrCodeWriteFailed, "cannot write file", err).WithPath(path)
	}
	return true, nil
}
