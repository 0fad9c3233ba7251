package actions

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoyci/convoy/pkg/schema"
)

func shellExec(t *testing.T, cfg RunnerConfig, inv Invocation) (*StepResult, error) {
	t.Helper()
	a := &shellAction{cfg: cfg.withDefaults()}
	return a.Execute(context.Background(), inv)
}

func TestShellCapturesOutput(t *testing.T) {
	res, err := shellExec(t, RunnerConfig{}, Invocation{
		Params: map[string]any{"script": "echo out-line; echo err-line >&2"},
	})
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out-line\n", res.Stdout)
	assert.Equal(t, "err-line\n", res.Stderr)
	assert.False(t, res.TimedOut)
}

func TestShellNonZeroExitIsAResultNotAnError(t *testing.T) {
	res, err := shellExec(t, RunnerConfig{}, Invocation{
		Params: map[string]any{"script": "exit 4"},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.ExitCode)
	assert.False(t, res.Success())
	assert.False(t, res.TimedOut)
}

func TestShellTimeout(t *testing.T) {
	start := time.Now()
	res, err := shellExec(t, RunnerConfig{}, Invocation{
		Params:  map[string]any{"script": "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.False(t, res.Success())
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShellMissingBinary(t *testing.T) {
	_, err := shellExec(t, RunnerConfig{ShellBin: "/nonexistent/sh"}, Invocation{
		Params: map[string]any{"script": "true"},
	})
	require.Error(t, err)

	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeExecution, perr.Code)
}

func TestShellScopeEnvReachesProcess(t *testing.T) {
	res, err := shellExec(t, RunnerConfig{}, Invocation{
		Params: map[string]any{"script": `printf "%s" "$GH_TOKEN"`},
		Env:    []string{"GH_TOKEN=tok-123"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-123", res.Stdout)
}

func TestShellStepEnvParam(t *testing.T) {
	res, err := shellExec(t, RunnerConfig{}, Invocation{
		Params: map[string]any{
			"script": `printf "%s" "$DEPLOY_ENV"`,
			"env":    map[string]any{"DEPLOY_ENV": "staging"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "staging", res.Stdout)
}

func TestShellRunsInWorkdir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))

	res, err := shellExec(t, RunnerConfig{}, Invocation{
		Params:  map[string]any{"script": "ls"},
		Workdir: dir,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "marker.txt")
}

func TestOutputSizeCap(t *testing.T) {
	res, err := shellExec(t, RunnerConfig{MaxOutputSize: 64}, Invocation{
		Params: map[string]any{"script": `i=0; while [ $i -lt 100 ]; do echo "0123456789"; i=$((i+1)); done`},
	})
	require.NoError(t, err)

	// Truncated at the cap; the process was never blocked on a full pipe.
	assert.Len(t, res.Stdout, 64)
	assert.True(t, res.Success())
}

func TestLimitedWriterReportsFullLength(t *testing.T) {
	var sink strings.Builder
	lw := &limitedWriter{w: &sink, limit: 4}

	n, err := lw.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "abcd", sink.String())

	n, err = lw.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", sink.String())
}

func TestStepResultDocument(t *testing.T) {
	res := &StepResult{ExitCode: 0, Stdout: `{"digest":"sha256:abc"}`, Stderr: "warn", DurationMs: 12}
	doc := res.Document()

	parsed, ok := doc["stdout"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sha256:abc", parsed["digest"])
	assert.Equal(t, `{"digest":"sha256:abc"}`, doc["stdout_raw"])
	assert.Equal(t, "warn", doc["stderr"])
	assert.Equal(t, 0, doc["exit_code"])
}

func TestStepResultDocumentNonJSONStdout(t *testing.T) {
	res := &StepResult{Stdout: "plain text"}
	doc := res.Document()
	assert.Equal(t, "plain text", doc["stdout"])
	assert.Equal(t, "plain text", doc["stdout_raw"])
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"name":    "value",
		"number":  3,
		"flag":    true,
		"list":    []any{"a", "b", 1},
		"mapping": map[string]any{"k": "v", "n": 2},
	}

	assert.Equal(t, "value", stringParam(params, "name", "def"))
	assert.Equal(t, "def", stringParam(params, "number", "def"))
	assert.Equal(t, "def", stringParam(params, "absent", "def"))

	assert.True(t, boolParam(params, "flag", false))
	assert.False(t, boolParam(params, "name", false))
	assert.True(t, boolParam(params, "absent", true))

	assert.Equal(t, []string{"a", "b"}, stringSliceParam(params, "list"))
	assert.Nil(t, stringSliceParam(params, "absent"))

	assert.Equal(t, map[string]string{"k": "v"}, stringMapParam(params, "mapping"))
	assert.Nil(t, stringMapParam(params, "absent"))
}

func TestAutoParse(t *testing.T) {
	assert.Equal(t, "", autoParse(""))
	assert.Equal(t, "not json", autoParse("not json"))
	assert.Equal(t, float64(42), autoParse("42"))

	parsed, ok := autoParse(`{"a":1}`).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), parsed["a"])
}
