package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/conneroisu/devloop/internal/errors"
)

//go:embed config.schema.json
var schemaData []byte

var (
	configSchema *jsonschema.Schema
	compileOnce  sync.Once
	compileErr   error
)

// compileSchema compiles the embedded schema once.
func compileSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal config schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add config schema resource: %w", err)
			return
		}

		configSchema, err = compiler.Compile("config.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile config schema: %w", err)
		}
	})

	return compileErr
}

// Schema returns the embedded JSON schema document.
func Schema() []byte {
	return append([]byte(nil), schemaData...)
}

// ValidateSchema checks cfg against the embedded schema. Violations are
// reported as a config error whose diagnostic lists every failing field.
func ValidateSchema(cfg *Config) error {
	if err := compileSchema(); err != nil {
		return errors.NewConfigError("configuration schema unavailable", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.NewConfigError("failed to encode configuration", err)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.NewConfigError("failed to encode configuration", err)
	}

	if err := configSchema.Validate(v); err != nil {
		return errors.NewConfigError("configuration does not match schema", err).
			WithDiagnostic(err.Error())
	}
	return nil
}
