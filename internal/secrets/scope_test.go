package secrets

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoyci/convoy/pkg/schema"
)

// mapVault is an in-memory Vault for scope tests.
type mapVault map[string][]byte

func (v mapVault) Resolve(_ context.Context, id string) ([]byte, error) {
	m, ok := v[id]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "credential not found: "+id)
	}
	return append([]byte(nil), m...), nil
}

func (v mapVault) Store(_ context.Context, id string, material []byte) error {
	v[id] = append([]byte(nil), material...)
	return nil
}

func (v mapVault) Delete(_ context.Context, id string) error {
	delete(v, id)
	return nil
}

func (v mapVault) List(_ context.Context) ([]string, error) { return nil, nil }

func TestOpenScopeUsernamePassword(t *testing.T) {
	vault := mapVault{"dockerhub-creds": []byte("alice:hunter2")}

	scope, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "dockerhub-creds", Kind: schema.CredentialUsernamePassword},
	})
	require.NoError(t, err)
	defer scope.Close()

	env := scope.Env()
	assert.Contains(t, env, "DOCKERHUB_CREDS_USR=alice")
	assert.Contains(t, env, "DOCKERHUB_CREDS_PSW=hunter2")
}

func TestOpenScopeToken(t *testing.T) {
	vault := mapVault{"gh": []byte("ghp_abc123")}

	scope, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "gh", Kind: schema.CredentialToken},
	})
	require.NoError(t, err)
	defer scope.Close()

	assert.Equal(t, []string{"GH_TOKEN=ghp_abc123"}, scope.Env())
}

func TestOpenScopeKubeconfig(t *testing.T) {
	material := []byte("apiVersion: v1\nkind: Config\n")
	vault := mapVault{"prod-cluster": material}

	scope, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "prod-cluster", Kind: schema.CredentialKubeconfig},
	})
	require.NoError(t, err)

	var path string
	for _, kv := range scope.Env() {
		if p, ok := strings.CutPrefix(kv, "KUBECONFIG="); ok {
			path = p
		}
	}
	require.NotEmpty(t, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, material, onDisk)

	require.NoError(t, scope.Close())

	// Close removes the on-disk kubeconfig.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenScopeResolutionFailureClosesPartialScope(t *testing.T) {
	// First binding resolves and writes a file; the second fails. The file
	// must not survive the failed open.
	vault := mapVault{"cluster": []byte("kubeconfig material")}

	scope, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "cluster", Kind: schema.CredentialKubeconfig},
		{ID: "missing", Kind: schema.CredentialToken},
	})
	require.Error(t, err)
	assert.Nil(t, scope)

	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeVault, perr.Code)
	assert.Equal(t, "missing", perr.Details["credential_id"])

	entries, globErr := os.ReadDir(os.TempDir())
	require.NoError(t, globErr)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "convoy-kubeconfig-") {
			content, readErr := os.ReadFile(os.TempDir() + "/" + e.Name())
			if readErr == nil {
				assert.NotEqual(t, "kubeconfig material", string(content))
			}
		}
	}
}

func TestOpenScopeMalformedUsernamePassword(t *testing.T) {
	vault := mapVault{"creds": []byte("no-colon-here")}

	_, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "creds", Kind: schema.CredentialUsernamePassword},
	})
	require.Error(t, err)

	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeVault, perr.Code)
}

func TestOpenScopeUnsupportedKind(t *testing.T) {
	vault := mapVault{"x": []byte("v")}

	_, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "x", Kind: "certificate"},
	})
	require.Error(t, err)

	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeVault, perr.Code)
}

func TestScopeCloseIsIdempotent(t *testing.T) {
	vault := mapVault{"gh": []byte("tok")}

	scope, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "gh", Kind: schema.CredentialToken},
	})
	require.NoError(t, err)

	assert.False(t, scope.Closed())
	require.NoError(t, scope.Close())
	assert.True(t, scope.Closed())
	require.NoError(t, scope.Close())

	// Bound environment is unavailable once the scope is closed.
	assert.Nil(t, scope.Env())
}

func TestScopeRedactorSurvivesClose(t *testing.T) {
	vault := mapVault{"gh": []byte("tok-secret-value")}

	scope, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "gh", Kind: schema.CredentialToken},
	})
	require.NoError(t, err)

	redactor := scope.Redactor()
	require.NoError(t, scope.Close())

	// Output captured during the stage is scrubbed even after teardown.
	out := redactor.Redact("token tok-secret-value leaked")
	assert.Equal(t, "token "+Mask+" leaked", out)
}

func TestScopeRedactorCoversBothHalvesOfUserPass(t *testing.T) {
	vault := mapVault{"creds": []byte("alice:hunter2")}

	scope, err := OpenScope(context.Background(), vault, []Binding{
		{ID: "creds", Kind: schema.CredentialUsernamePassword},
	})
	require.NoError(t, err)
	defer scope.Close()

	out := scope.Redactor().Redact("login alice password hunter2")
	assert.NotContains(t, out, "alice")
	assert.NotContains(t, out, "hunter2")
}

func TestEnvName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dockerhub", "DOCKERHUB"},
		{"dockerhub-credentials", "DOCKERHUB_CREDENTIALS"},
		{"prod.cluster v2", "PROD_CLUSTER_V2"},
		{"GH_TOKEN", "GH_TOKEN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envName(tt.in))
	}
}
