package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoyci/convoy/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCELEvaluateBool(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want bool
	}{
		{
			name: "input comparison true",
			expr: `inputs.environment == "production"`,
			data: map[string]any{"inputs": map[string]any{"environment": "production"}},
			want: true,
		},
		{
			name: "input comparison false",
			expr: `inputs.environment == "production"`,
			data: map[string]any{"inputs": map[string]any{"environment": "staging"}},
			want: false,
		},
		{
			name: "stage output reference",
			expr: `stages.build.image_tag != ""`,
			data: map[string]any{"stages": map[string]any{"build": map[string]any{"image_tag": "v1"}}},
			want: true,
		},
		{
			name: "membership check",
			expr: `"deploy" in inputs`,
			data: map[string]any{"inputs": map[string]any{"deploy": true}},
			want: true,
		},
		{
			name: "pipeline metadata",
			expr: `pipeline.name == "release"`,
			data: map[string]any{"pipeline": map[string]any{"name": "release"}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateBool(ctx, tt.expr, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELMissingKeysDefaultToEmptyMaps(t *testing.T) {
	e := newCEL(t)

	// No data at all: variables resolve to empty maps, not runtime errors.
	got, err := e.EvaluateBool(context.Background(), `"x" in inputs`, nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCELCompileError(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "inputs ==", nil)
	require.Error(t, err)

	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeDefinition, perr.Code)
}

func TestCELEmptyExpression(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestCELNonBooleanCondition(t *testing.T) {
	e := newCEL(t)

	_, err := e.EvaluateBool(context.Background(), `inputs.environment`, map[string]any{
		"inputs": map[string]any{"environment": "staging"},
	})
	require.Error(t, err)

	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeDefinition, perr.Code)
}

func TestCELCheck(t *testing.T) {
	e := newCEL(t)

	require.NoError(t, e.Check(`inputs.x == "y"`))

	err := e.Check("not valid ((")
	require.Error(t, err)
	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeDefinition, perr.Code)
}

func TestCELUnknownVariableRejected(t *testing.T) {
	e := newCEL(t)

	// Only stages, inputs, and pipeline exist; anything else fails compile.
	err := e.Check(`secrets.token != ""`)
	require.Error(t, err)
}

func TestCELCacheReuse(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	const expr = `inputs.n == "1"`
	for i := 0; i < 3; i++ {
		_, err := e.EvaluateBool(ctx, expr, map[string]any{"inputs": map[string]any{"n": "1"}})
		require.NoError(t, err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
