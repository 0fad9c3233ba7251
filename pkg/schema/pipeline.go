package schema

// PipelineDefinition is the pipeline-as-code format, usually authored in YAML.
// Stage order is execution order; there is no dependency graph.
type PipelineDefinition struct {
	Name        string                    `yaml:"name" json:"name"`
	Inputs      map[string]any            `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Credentials map[string]CredentialDecl `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Stages      []StageDefinition         `yaml:"stages" json:"stages"`
	OnSuccess   *HookDefinition           `yaml:"on_success,omitempty" json:"on_success,omitempty"`
	OnFailure   *HookDefinition           `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	Metadata    map[string]any            `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// StageDefinition is one named, ordered group of external-action steps,
// scoped to a single credential context.
type StageDefinition struct {
	Name        string           `yaml:"name" json:"name"`
	When        string           `yaml:"when,omitempty" json:"when,omitempty"` // CEL, default true
	Credentials []string         `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Steps       []StepDefinition `yaml:"steps" json:"steps"`
}

// StepDefinition describes a single external-action invocation within a stage.
type StepDefinition struct {
	Action  string            `yaml:"action" json:"action"`
	Params  map[string]any    `yaml:"params,omitempty" json:"params,omitempty"`
	Outputs map[string]string `yaml:"outputs,omitempty" json:"outputs,omitempty"` // name -> jq expression over the step result
	Timeout string            `yaml:"timeout,omitempty" json:"timeout,omitempty"` // e.g. "30s", "5m"
}

// HookDefinition is a terminal hook invocation (on_success / on_failure).
// Hooks run without a credential scope and receive the run report as params context.
type HookDefinition struct {
	Action string         `yaml:"action" json:"action"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// CredentialDecl declares a credential by identifier and kind.
// Material is never part of the definition; it is resolved from the vault at run time.
type CredentialDecl struct {
	Kind CredentialKind `yaml:"kind" json:"kind"`
}

// CredentialKind enumerates the supported credential shapes.
type CredentialKind string

const (
	CredentialUsernamePassword CredentialKind = "username_password"
	CredentialToken            CredentialKind = "token"
	CredentialKubeconfig       CredentialKind = "kubeconfig"
)

// Valid reports whether the kind is one of the supported values.
func (k CredentialKind) Valid() bool {
	switch k {
	case CredentialUsernamePassword, CredentialToken, CredentialKubeconfig:
		return true
	}
	return false
}
