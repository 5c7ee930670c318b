package schema

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// cueSchemas compiles and caches the built-in CUE schemas for definition
// documents. YAML definition files are unified against these before being
// decoded into Go structs, so malformed documents fail with a structural
// error instead of a half-decoded definition.
type cueSchemas struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

func newCUESchemas() (*cueSchemas, error) {
	cs := &cueSchemas{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	builtins := map[string]string{
		"model":    builtinModelSchema,
		"ruleset":  builtinRulesetSchema,
		"workflow": builtinWorkflowSchema,
		"wizard":   builtinWizardSchema,
	}
	for name, src := range builtins {
		val := cs.ctx.CompileString(src)
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		cs.schemas[name] = val
	}
	return cs, nil
}

// validate unifies data against the named schema's definition.
func (cs *cueSchemas) validate(kind string, data any) error {
	cs.mu.RLock()
	schema, ok := cs.schemas[kind]
	cs.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown definition kind %q", kind)
	}

	def := schema.LookupPath(cue.ParsePath("#" + capitalize(kind)))
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s has no definition: %w", kind, err)
	}

	dataVal := cs.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("definition does not match %s schema: %w", kind, err)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

const builtinModelSchema = `
// Model definition document
#Model: {
	id:   string & =~"^[a-zA-Z0-9_-]+$"
	name: string

	// workflow optionally binds entities of this model to a state machine
	workflow?: string

	properties: [...#Property] & [_, ...]
}

#Property: {
	id:   string & =~"^[a-zA-Z0-9_-]+$"
	name: string & =~"^[a-zA-Z][a-zA-Z0-9_]*$"
	type: "string" | "number" | "boolean" | "date" | "relationship"

	required?: bool
	unique?:   bool
	ruleset?:  string
	min?:      number
	max?:      number

	target_model?: string
	cardinality?:  "one" | "many"

	// default is a Starlark expression
	default?: string

	order_index?: int & >=0
}
`

const builtinRulesetSchema = `
// Validation ruleset document
#Ruleset: {
	id:      string & =~"^[a-zA-Z0-9_-]+$"
	name:    string
	pattern: string
}
`

const builtinWorkflowSchema = `
// Workflow state machine document
#Workflow: {
	id:   string & =~"^[a-zA-Z0-9_-]+$"
	name: string

	states: [...#State] & [_, ...]
	transitions?: [...#Transition]
}

#State: {
	id:       string & =~"^[a-zA-Z0-9_-]+$"
	name:     string
	initial?: bool
}

#Transition: {
	from: string
	to:   string
}
`

const builtinWizardSchema = `
// Wizard flow document
#Wizard: {
	id:   string & =~"^[a-zA-Z0-9_-]+$"
	name: string

	steps: [...#WizardStep] & [_, ...]
}

#WizardStep: {
	model: string
	type:  "create" | "lookup"

	properties?: [...string]
	mappings?: [...#PropertyMapping]
}

#PropertyMapping: {
	source_step:     int & >=0
	source_property: string
	target_property: string
}
`
