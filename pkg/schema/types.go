// Package schema holds the Recordloom definition layer: Models with typed
// Properties, regex Rulesets, Workflow state machines, and Wizard flows. The
// Registry is pure data plus lookup; definitions are loaded from YAML files
// validated against built-in CUE schemas.
package schema

// PropertyType enumerates the declared type of a Model property.
type PropertyType string

const (
	PropertyTypeString       PropertyType = "string"
	PropertyTypeNumber       PropertyType = "number"
	PropertyTypeBoolean      PropertyType = "boolean"
	PropertyTypeDate         PropertyType = "date"
	PropertyTypeRelationship PropertyType = "relationship"
)

// Cardinality is the relationship cardinality of a relationship property.
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// Property is a named, typed, optionally constrained field on a Model.
type Property struct {
	// ID is the unique identifier of this property.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is the property name, unique within its Model.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Type is the declared property type.
	Type PropertyType `json:"type" yaml:"type" validate:"required,oneof=string number boolean date relationship"`

	// Required marks the property as mandatory.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Unique requires string values to be unique across sibling entities
	// of the same Model.
	Unique bool `json:"unique,omitempty" yaml:"unique,omitempty"`

	// RulesetName references a regex Ruleset applied to string values.
	RulesetName string `json:"ruleset,omitempty" yaml:"ruleset,omitempty"`

	// Min and Max bound numeric values when set.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// TargetModelID is the related Model for relationship properties.
	TargetModelID string `json:"target_model,omitempty" yaml:"target_model,omitempty"`

	// Cardinality is one or many for relationship properties.
	Cardinality Cardinality `json:"cardinality,omitempty" yaml:"cardinality,omitempty" validate:"omitempty,oneof=one many"`

	// Default is an optional Starlark expression evaluated when a create
	// path leaves the property unset.
	Default string `json:"default,omitempty" yaml:"default,omitempty"`

	// OrderIndex orders properties for presentation and validation.
	OrderIndex int `json:"order_index" yaml:"order_index"`
}

// Model is a user-defined record schema with an ordered Property list.
type Model struct {
	// ID is the unique identifier of this model.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is the unique model name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Properties is the ordered property list.
	Properties []Property `json:"properties" yaml:"properties" validate:"required,min=1,dive"`

	// WorkflowID optionally attaches a workflow to entities of this model.
	WorkflowID string `json:"workflow,omitempty" yaml:"workflow,omitempty"`
}

// Property returns the property with the given name.
func (m *Model) Property(name string) (*Property, bool) {
	for i := range m.Properties {
		if m.Properties[i].Name == name {
			return &m.Properties[i], true
		}
	}
	return nil, false
}

// Ruleset is a named, reusable regular-expression constraint attachable to
// string properties.
type Ruleset struct {
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is the unique ruleset name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Pattern is the regular expression. Compilation is deferred to the
	// validator; a pattern that fails to compile is skipped with a
	// warning, not rejected.
	Pattern string `json:"pattern" yaml:"pattern" validate:"required"`
}

// State is one node of a workflow state machine.
type State struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name" yaml:"name" validate:"required"`

	// Initial flags the single entry state of the workflow.
	Initial bool `json:"initial,omitempty" yaml:"initial,omitempty"`
}

// Transition is a directed edge between two workflow states.
type Transition struct {
	FromStateID string `json:"from" yaml:"from" validate:"required"`
	ToStateID   string `json:"to" yaml:"to" validate:"required"`
}

// Workflow is a named state machine attachable to a Model.
type Workflow struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name" yaml:"name" validate:"required"`

	States      []State      `json:"states" yaml:"states" validate:"required,min=1,dive"`
	Transitions []Transition `json:"transitions,omitempty" yaml:"transitions,omitempty" validate:"dive"`
}

// State returns the state with the given ID.
func (w *Workflow) State(id string) (*State, bool) {
	for i := range w.States {
		if w.States[i].ID == id {
			return &w.States[i], true
		}
	}
	return nil, false
}

// InitialState returns the state flagged as initial, if any.
func (w *Workflow) InitialState() (*State, bool) {
	for i := range w.States {
		if w.States[i].Initial {
			return &w.States[i], true
		}
	}
	return nil, false
}

// Successors returns the IDs of states reachable from the given state by a
// single declared transition.
func (w *Workflow) Successors(fromStateID string) []string {
	var out []string
	for _, t := range w.Transitions {
		if t.FromStateID == fromStateID {
			out = append(out, t.ToStateID)
		}
	}
	return out
}

// StepType distinguishes wizard steps that create a new entity from steps
// that look up an existing one.
type StepType string

const (
	StepTypeCreate StepType = "create"
	StepTypeLookup StepType = "lookup"
)

// IdentitySource is the sentinel source-property name in a PropertyMapping
// that copies the produced entity identity of the source step instead of a
// named property value. An explicit sentinel, not a magic empty string, so
// definition files state the intent.
const IdentitySource = "$identity"

// PropertyMapping copies a value or a produced identity from an earlier
// wizard step into a later step's entity.
type PropertyMapping struct {
	// SourceStepIndex is the earlier step the value comes from. It must be
	// strictly less than the step the mapping is declared on; the registry
	// enforces this when the wizard is defined, which is what makes a
	// single forward resolution pass sufficient at run time.
	SourceStepIndex int `json:"source_step" yaml:"source_step"`

	// SourceProperty names the property to read from the source step, or
	// IdentitySource for the produced entity identity.
	SourceProperty string `json:"source_property" yaml:"source_property" validate:"required"`

	// TargetProperty names the property on this step's model to fill.
	TargetProperty string `json:"target_property" yaml:"target_property" validate:"required"`
}

// WizardStep is one step of a wizard.
type WizardStep struct {
	// ModelID is the model this step creates or looks up.
	ModelID string `json:"model" yaml:"model" validate:"required"`

	// Type is create or lookup.
	Type StepType `json:"type" yaml:"type" validate:"required,oneof=create lookup"`

	// Properties is the requested property subset shown to the user.
	// Empty means all model properties.
	Properties []string `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Mappings lists values inherited from earlier steps. Only create
	// steps may carry mappings.
	Mappings []PropertyMapping `json:"mappings,omitempty" yaml:"mappings,omitempty" validate:"dive"`
}

// Wizard is an ordered sequence of steps guiding creation of several related
// entities in one flow.
type Wizard struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name" yaml:"name" validate:"required"`

	Steps []WizardStep `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}
