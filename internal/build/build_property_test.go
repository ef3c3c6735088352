//go:build property

package build

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/afero"
)

// TestConcatProperties validates that rerunning a compile with unchanged
// inputs yields byte-identical output.
func TestConcatProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("concat output is byte-identical across runs", prop.ForAll(
		func(contents []string) bool {
			fsys := afero.NewMemMapFs()
			sources := make([]string, 0, len(contents))
			for i, c := range contents {
				name := fmt.Sprintf("/src/%03d.js", len(contents)-i)
				if err := afero.WriteFile(fsys, name, []byte(c), 0o644); err != nil {
					return false
				}
				sources = append(sources, name)
			}
			if len(sources) == 0 {
				return true
			}

			unit := NewConcat(fsys, "script", "bundle.js")
			if err := unit.Compile(context.Background(), sources, "/dist"); err != nil {
				return false
			}
			first, err := afero.ReadFile(fsys, "/dist/bundle.js")
			if err != nil {
				return false
			}

			if err := unit.Compile(context.Background(), sources, "/dist"); err != nil {
				return false
			}
			second, err := afero.ReadFile(fsys, "/dist/bundle.js")
			if err != nil {
				return false
			}

			return string(first) == string(second)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
