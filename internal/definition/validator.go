package definition

import "github.com/convoyci/convoy/pkg/schema"

// ActionLookup is the subset of the action registry validation needs.
type ActionLookup interface {
	Has(name string) bool
	ValidateParams(name string, params map[string]any) error
}

// ConditionChecker compile-checks stage when-conditions.
type ConditionChecker interface {
	Check(expression string) error
}

// Validator runs the full validation pipeline over a definition: structural
// (JSON Schema) first, then semantic checks when the structure holds.
// Validation is pure: the same definition always yields the same result, and
// the definition is never mutated.
type Validator struct {
	structural *StructuralValidator
	actions    ActionLookup
	conditions ConditionChecker
}

// NewValidator creates a Validator. actions and conditions may be nil, in
// which case action registration and condition compilation are not checked.
func NewValidator(actions ActionLookup, conditions ConditionChecker) (*Validator, error) {
	structural, err := NewStructuralValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{
		structural: structural,
		actions:    actions,
		conditions: conditions,
	}, nil
}

// Validate checks the definition and returns the aggregated result.
// Semantic checks only run when the structural pass produced no errors, so
// semantic code never has to guard against missing required fields.
func (v *Validator) Validate(def *schema.PipelineDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	v.structural.ValidateStructure(def, result)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, v.actions, v.conditions))
	return result
}

// ValidateToError is Validate with the result collapsed to a single error,
// nil when the definition is valid.
func (v *Validator) ValidateToError(def *schema.PipelineDefinition) error {
	return v.Validate(def).ToError()
}
