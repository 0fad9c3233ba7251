package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoyci/convoy/pkg/schema"
)

const sampleYAML = `
name: release
credentials:
  dockerhub:
    kind: username_password
  prod-cluster:
    kind: kubeconfig
stages:
  - name: build
    steps:
      - action: build_image
        params:
          tag: registry.example.com/app:latest
        outputs:
          digest: .stdout_raw
        timeout: 15m
  - name: deploy
    when: inputs.environment == "production"
    credentials: [prod-cluster]
    steps:
      - action: apply_manifest
        params:
          path: k8s/deployment.yaml
on_failure:
  action: notify
  params:
    channel: "#releases"
`

func TestParse(t *testing.T) {
	def, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "release", def.Name)
	require.Len(t, def.Stages, 2)

	assert.Equal(t, schema.CredentialUsernamePassword, def.Credentials["dockerhub"].Kind)
	assert.Equal(t, schema.CredentialKubeconfig, def.Credentials["prod-cluster"].Kind)

	build := def.Stages[0]
	require.Len(t, build.Steps, 1)
	assert.Equal(t, "build_image", build.Steps[0].Action)
	assert.Equal(t, "registry.example.com/app:latest", build.Steps[0].Params["tag"])
	assert.Equal(t, ".stdout_raw", build.Steps[0].Outputs["digest"])
	assert.Equal(t, "15m", build.Steps[0].Timeout)

	deploy := def.Stages[1]
	assert.Equal(t, `inputs.environment == "production"`, deploy.When)
	assert.Equal(t, []string{"prod-cluster"}, deploy.Credentials)

	require.NotNil(t, def.OnFailure)
	assert.Equal(t, "notify", def.OnFailure.Action)
	assert.Equal(t, "#releases", def.OnFailure.Params["channel"])
	assert.Nil(t, def.OnSuccess)
}

func TestParseEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   \n\t\n"} {
		_, err := Parse([]byte(input))
		require.Error(t, err)
		var perr *schema.PipelineError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, schema.ErrCodeDefinition, perr.Code)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	// "stage" instead of "stages": the typo must surface, not be dropped.
	_, err := Parse([]byte("name: x\nstage:\n  - name: build\n"))
	require.Error(t, err)
	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeDefinition, perr.Code)
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unclosed"))
	require.Error(t, err)
	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeDefinition, perr.Code)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "release", def.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeDefinition, perr.Code)
}
