// Package build provides the compile units that turn an asset group's sources
// into files under the destination directory.
package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conneroisu/devloop/internal/errors"
)

//go:generate mockgen -source=compiler.go -destination=mocks/mock_unit.go -package=mocks

// Unit compiles a set of sources into dest. Implementations must write to a
// deterministic location under dest and must be safe to run concurrently with
// units of other groups. Callers never run a unit concurrently with itself.
type Unit interface {
	Compile(ctx context.Context, sources []string, dest string) error
}

// UnitFunc adapts a function to the Unit interface.
type UnitFunc func(ctx context.Context, sources []string, dest string) error

// Compile calls f.
func (f UnitFunc) Compile(ctx context.Context, sources []string, dest string) error {
	return f(ctx, sources, dest)
}

// Argument placeholders expanded by Command.
const (
	PlaceholderSources = "{sources}"
	PlaceholderDest    = "{dest}"
	PlaceholderOutput  = "{output}"
)

// Command runs an external compiler such as elm, stylus or pug.
type Command struct {
	group   string
	command string
	args    []string
	dir     string
	output  string
}

// NewCommand creates a compile unit for an external tool. Arguments may use
// {sources}, {dest} and {output}; when {sources} is absent the sources are
// appended after the other arguments.
func NewCommand(group, command string, args []string, dir, output string) *Command {
	return &Command{
		group:   group,
		command: command,
		args:    append([]string(nil), args...),
		dir:     dir,
		output:  output,
	}
}

// Compile runs the tool and turns a non-zero exit into a compile error whose
// diagnostic is the combined output of the tool.
func (c *Command) Compile(ctx context.Context, sources []string, dest string) error {
	path, err := c.lookPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "cannot create destination", err).WithPath(dest)
	}

	return c.execute(ctx, path, c.Args(sources, dest))
}

// Run executes the command once with its arguments as given. It backs
// per-group setup steps such as a package install.
func (c *Command) Run(ctx context.Context) error {
	path, err := c.lookPath()
	if err != nil {
		return err
	}
	return c.execute(ctx, path, c.args)
}

func (c *Command) lookPath() (string, error) {
	path, err := exec.LookPath(c.command)
	if err != nil {
		compileErr := errors.NewCompileError(c.group, fmt.Sprintf("compiler %q not found", c.command), "", err)
		compileErr.Code = errors.ErrCodeCompilerMissing
		return "", compileErr
	}
	return path, nil
}

func (c *Command) execute(ctx context.Context, path string, args []string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = c.dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCompileError(c.group, c.command+" cancelled", string(output), ctx.Err())
		}
		return errors.NewCompileError(c.group, c.command+" failed", string(output), err)
	}

	return nil
}

// Args expands the placeholders for one invocation.
func (c *Command) Args(sources []string, dest string) []string {
	out := make([]string, 0, len(c.args)+len(sources))
	expanded := false

	for _, arg := range c.args {
		if arg == PlaceholderSources {
			out = append(out, sources...)
			expanded = true
			continue
		}

		arg = strings.ReplaceAll(arg, PlaceholderDest, dest)
		if c.output != "" {
			arg = strings.ReplaceAll(arg, PlaceholderOutput, filepath.Join(dest, c.output))
		}
		out = append(out, arg)
	}

	if !expanded {
		out = append(out, sources...)
	}

	return out
}

// String describes the command line without sources.
func (c *Command) String() string {
	return strings.TrimSpace(c.command + " " + strings.Join(c.args, " "))
}
