package actions

import (
	"context"
	"fmt"

	"github.com/convoyci/convoy/pkg/schema"
)

// NewBuiltins returns all built-in actions configured with cfg.
func NewBuiltins(cfg RunnerConfig) []Action {
	cfg = cfg.withDefaults()
	return []Action{
		&fetchSourceAction{cfg: cfg},
		&buildImageAction{cfg: cfg},
		&pushImageAction{cfg: cfg},
		&applyManifestAction{cfg: cfg},
		&shellAction{cfg: cfg},
	}
}

// RegisterBuiltins registers all built-in actions into the registry.
func RegisterBuiltins(reg *Registry, cfg RunnerConfig) error {
	for _, a := range NewBuiltins(cfg) {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func requireParam(params map[string]any, key string) error {
	if stringParam(params, key, "") == "" {
		return schema.NewErrorf(schema.ErrCodeDefinition, "missing required param %q", key)
	}
	return nil
}

// --- fetch-source ---

// fetchSourceAction clones a git repository into the working directory.
type fetchSourceAction struct {
	cfg RunnerConfig
}

func (a *fetchSourceAction) Name() string { return "fetch-source" }

func (a *fetchSourceAction) Describe() string {
	return "Clone a git repository, optionally at a specific ref"
}

func (a *fetchSourceAction) Validate(params map[string]any) error {
	return requireParam(params, "repo")
}

func (a *fetchSourceAction) Execute(ctx context.Context, inv Invocation) (*StepResult, error) {
	repo := stringParam(inv.Params, "repo", "")
	dest := stringParam(inv.Params, "dest", ".")

	args := []string{"clone"}
	if depth := stringParam(inv.Params, "depth", ""); depth != "" {
		args = append(args, "--depth", depth)
	}
	if ref := stringParam(inv.Params, "ref", ""); ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, repo, dest)

	return runCommand(ctx, a.cfg, a.cfg.GitBin, args, "", inv)
}

// --- build-image ---

// buildImageAction builds a container image from a Dockerfile.
type buildImageAction struct {
	cfg RunnerConfig
}

func (a *buildImageAction) Name() string { return "build-image" }

func (a *buildImageAction) Describe() string {
	return "Build a container image from a build context"
}

func (a *buildImageAction) Validate(params map[string]any) error {
	return requireParam(params, "tag")
}

func (a *buildImageAction) Execute(ctx context.Context, inv Invocation) (*StepResult, error) {
	tag := stringParam(inv.Params, "tag", "")
	contextDir := stringParam(inv.Params, "context", ".")

	args := []string{"build", "-t", tag}
	if dockerfile := stringParam(inv.Params, "dockerfile", ""); dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	for k, v := range stringMapParam(inv.Params, "build_args") {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, contextDir)

	return runCommand(ctx, a.cfg, a.cfg.DockerBin, args, "", inv)
}

// --- push-image ---

// pushImageAction pushes a previously built image to a registry. Registry
// authentication is expected to come from the credential scope's environment
// bindings, not from params.
type pushImageAction struct {
	cfg RunnerConfig
}

func (a *pushImageAction) Name() string { return "push-image" }

func (a *pushImageAction) Describe() string {
	return "Push a container image to a registry"
}

func (a *pushImageAction) Validate(params map[string]any) error {
	return requireParam(params, "tag")
}

func (a *pushImageAction) Execute(ctx context.Context, inv Invocation) (*StepResult, error) {
	tag := stringParam(inv.Params, "tag", "")
	return runCommand(ctx, a.cfg, a.cfg.DockerBin, []string{"push", tag}, "", inv)
}

// --- apply-manifest ---

// applyManifestAction applies Kubernetes manifests. The kubeconfig credential
// kind binds KUBECONFIG in the scope env, so no cluster params are needed here.
type applyManifestAction struct {
	cfg RunnerConfig
}

func (a *applyManifestAction) Name() string { return "apply-manifest" }

func (a *applyManifestAction) Describe() string {
	return "Apply Kubernetes manifests with kubectl"
}

func (a *applyManifestAction) Validate(params map[string]any) error {
	if stringParam(params, "manifest", "") == "" && stringParam(params, "path", "") == "" {
		return schema.NewError(schema.ErrCodeDefinition, "one of params \"manifest\" or \"path\" is required")
	}
	return nil
}

func (a *applyManifestAction) Execute(ctx context.Context, inv Invocation) (*StepResult, error) {
	args := []string{"apply"}
	if ns := stringParam(inv.Params, "namespace", ""); ns != "" {
		args = append(args, "-n", ns)
	}

	// Inline manifest content is piped on stdin; a path points at files on disk.
	stdin := stringParam(inv.Params, "manifest", "")
	if stdin != "" {
		args = append(args, "-f", "-")
	} else {
		args = append(args, "-f", stringParam(inv.Params, "path", ""))
	}

	return runCommand(ctx, a.cfg, a.cfg.KubectlBin, args, stdin, inv)
}

// --- shell ---

// shellAction runs an arbitrary script through the configured shell.
type shellAction struct {
	cfg RunnerConfig
}

func (a *shellAction) Name() string { return "shell" }

func (a *shellAction) Describe() string {
	return "Run a shell script"
}

func (a *shellAction) Validate(params map[string]any) error {
	return requireParam(params, "script")
}

func (a *shellAction) Execute(ctx context.Context, inv Invocation) (*StepResult, error) {
	script := stringParam(inv.Params, "script", "")
	return runCommand(ctx, a.cfg, a.cfg.ShellBin, []string{"-c", script}, "", inv)
}
