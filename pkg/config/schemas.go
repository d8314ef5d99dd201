package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// SettingsSchema is the name of the built-in install settings schema.
const SettingsSchema = "#Settings"

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(SettingsSchema, builtinSettingsSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles schema and registers the definition called name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(name))
	if !def.Exists() {
		return fmt.Errorf("schema source does not define %s", name)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Context returns the CUE context schemas were compiled in. Values unified
// with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// ValidateAgainstSchema encodes data and checks it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

const builtinSettingsSchema = `
import "strings"

#Settings: {
	// Number of build users
	daemon_user_count: int & >=1 & <=128 | *32

	nix_build_group_name:   #PosixName | *"nixbld"
	nix_build_group_id:     int & >0 & <4294967295 | *3000
	nix_build_user_prefix:  #PosixName | *"nixbld"
	nix_build_user_id_base: int & >0 & <4294967295 | *3001

	nix_package_url?:    string & =~"^(https?|file)://"
	nix_package_sha256?: =~"^[0-9a-fA-F]{64}$"

	nix_root:      =~"^/" | *"/nix"
	nix_conf_path: =~"^/" | *"/etc/nix/nix.conf"
	extra_conf?: [...string]
	start_daemon: bool | *true
}

#PosixName: string & =~"^[a-z_][a-z0-9_-]*$" & strings.MaxRunes(32)
`
