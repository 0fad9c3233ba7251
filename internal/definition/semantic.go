package definition

import (
	"fmt"
	"time"

	"github.com/convoyci/convoy/pkg/schema"
)

// validateSemantic performs semantic analysis on a structurally valid
// definition. Checks: unique stage names, credential references declared,
// declared credential kinds supported, action names registered, step timeouts
// parseable, when-conditions compilable.
func validateSemantic(def *schema.PipelineDefinition, actions ActionLookup, conditions ConditionChecker) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for id, decl := range def.Credentials {
		if !decl.Kind.Valid() {
			result.AddError(fmt.Sprintf("credentials[%s].kind", id),
				schema.ErrCodeDefinition,
				fmt.Sprintf("unsupported credential kind %q", decl.Kind))
		}
	}

	stageNames := make(map[string]bool, len(def.Stages))
	for i := range def.Stages {
		stage := &def.Stages[i]
		path := fmt.Sprintf("stages[%d]", i)

		if stageNames[stage.Name] {
			result.AddError(path+".name", schema.ErrCodeDefinition,
				fmt.Sprintf("duplicate stage name %q", stage.Name))
		}
		stageNames[stage.Name] = true

		for j, credID := range stage.Credentials {
			if _, declared := def.Credentials[credID]; !declared {
				result.AddError(fmt.Sprintf("%s.credentials[%d]", path, j),
					schema.ErrCodeDefinition,
					fmt.Sprintf("references undeclared credential %q", credID))
			}
		}

		if stage.When != "" && conditions != nil {
			if err := conditions.Check(stage.When); err != nil {
				result.AddError(path+".when", schema.ErrCodeDefinition,
					fmt.Sprintf("invalid condition: %s", err.Error()))
			}
		}

		for j := range stage.Steps {
			validateStep(&stage.Steps[j], fmt.Sprintf("%s.steps[%d]", path, j), actions, result)
		}
	}

	if def.OnSuccess != nil {
		validateHook(def.OnSuccess, "on_success", actions, result)
	}
	if def.OnFailure != nil {
		validateHook(def.OnFailure, "on_failure", actions, result)
	}

	return result
}

// validateStep checks action registration, action-specific params, and timeout format.
func validateStep(step *schema.StepDefinition, path string, actions ActionLookup, result *schema.ValidationResult) {
	if actions != nil && step.Action != "" {
		if !actions.Has(step.Action) {
			result.AddError(path+".action", schema.ErrCodeDefinition,
				fmt.Sprintf("action %q not registered", step.Action))
		} else if err := actions.ValidateParams(step.Action, step.Params); err != nil {
			result.AddError(path+".params", schema.ErrCodeDefinition, err.Error())
		}
	}

	if step.Timeout != "" {
		if d, err := time.ParseDuration(step.Timeout); err != nil {
			result.AddError(path+".timeout", schema.ErrCodeDefinition,
				fmt.Sprintf("invalid timeout %q: %s", step.Timeout, err.Error()))
		} else if d <= 0 {
			result.AddError(path+".timeout", schema.ErrCodeDefinition,
				fmt.Sprintf("timeout %q must be positive", step.Timeout))
		}
	}
}

// validateHook checks a terminal hook's action. Hooks run without credential
// scopes, so there is nothing credential-related to verify.
func validateHook(hook *schema.HookDefinition, path string, actions ActionLookup, result *schema.ValidationResult) {
	if actions == nil || hook.Action == "" {
		return
	}
	if !actions.Has(hook.Action) {
		result.AddError(path+".action", schema.ErrCodeDefinition,
			fmt.Sprintf("action %q not registered", hook.Action))
	} else if err := actions.ValidateParams(hook.Action, hook.Params); err != nil {
		result.AddError(path+".params", schema.ErrCodeDefinition, err.Error())
	}
}
