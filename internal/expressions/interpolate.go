package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/convoyci/convoy/pkg/schema"
)

// InterpolationScope holds all data available for variable resolution.
// There is deliberately no secrets namespace: credential material reaches
// steps only through scope-bound environment variables, never through params.
type InterpolationScope struct {
	Stages   map[string]any // stage name -> declared outputs of completed stages
	Inputs   map[string]any // pipeline input parameters
	Pipeline map[string]any // run metadata (run_id, name)
}

// Interpolator resolves ${{...}} references in step and hook params.
// Stateless and safe for concurrent use.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve walks a params map and substitutes every ${{...}} reference.
// A string that is exactly one reference keeps the referenced value's type;
// references embedded in a longer string are stringified inline.
// The input map is not mutated.
func (interp *Interpolator) Resolve(params map[string]any, scope *InterpolationScope) (map[string]any, error) {
	if len(params) == 0 {
		return params, nil
	}
	resolved, err := interp.resolveValue(params, scope)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func (interp *Interpolator) resolveValue(val any, scope *InterpolationScope) (any, error) {
	switch v := val.(type) {
	case string:
		return interp.resolveString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := interp.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := interp.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return val, nil
	}
}

// resolveString scans a string for ${{...}} tokens.
func (interp *Interpolator) resolveString(s string, scope *InterpolationScope) (any, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}

	// Whole-string reference: preserve the resolved value's type.
	if strings.HasPrefix(s, "${{") && strings.HasSuffix(s, "}}") {
		inner := strings.TrimSpace(s[3 : len(s)-2])
		if inner != "" && !strings.Contains(inner, "${{") && !strings.Contains(inner, "}}") {
			return interp.resolveExpr(inner, scope)
		}
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 3

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeDefinition, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(s[start:end])
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeDefinition, "empty variable reference: ${{  }}")
		}
		if strings.Contains(expr, "${{") {
			return nil, schema.NewError(schema.ErrCodeDefinition,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := interp.resolveExpr(expr, scope)
		if err != nil {
			return nil, err
		}
		result.WriteString(stringifyInline(val))

		i = end + 2
	}

	return result.String(), nil
}

// resolveExpr resolves a single expression path like "stages.build.image_tag".
func (interp *Interpolator) resolveExpr(expr string, scope *InterpolationScope) (any, error) {
	namespace, rest, _ := strings.Cut(expr, ".")

	switch namespace {
	case "stages":
		if rest == "" {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition,
				"invalid stage reference %q: expected stages.<name>.<output>", expr).
				WithDetails(map[string]any{"expression": expr})
		}
		stageName, outputPath, _ := strings.Cut(rest, ".")
		output, ok := scope.Stages[stageName]
		if !ok {
			available := mapKeys(scope.Stages)
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"stage %q not found in ${{%s}}; completed stages: [%s]", stageName, expr, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": expr, "available_stages": available})
		}
		if outputPath == "" {
			return output, nil
		}
		return traversePath(output, outputPath, expr)

	case "inputs":
		if rest == "" {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition,
				"invalid input reference %q: expected inputs.<name>", expr).
				WithDetails(map[string]any{"expression": expr})
		}
		if val, ok := scope.Inputs[rest]; ok {
			return val, nil
		}
		return traversePath(any(scope.Inputs), rest, expr)

	case "pipeline":
		if rest == "" {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition,
				"invalid pipeline reference %q: expected pipeline.<field>", expr).
				WithDetails(map[string]any{"expression": expr})
		}
		return traversePath(any(scope.Pipeline), rest, expr)

	default:
		available := []string{"stages", "inputs", "pipeline"}
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path, expr string) (any, error) {
	current := root
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition,
				"empty segment in path ${{%s}}", expr).
				WithDetails(map[string]any{"expression": expr})
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"cannot traverse into non-object at %q in ${{%s}} (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
		val, ok := obj[seg]
		if !ok {
			available := mapKeys(obj)
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"field %q not found in ${{%s}}; available: [%s]", seg, expr, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": expr, "available_fields": available})
		}
		current = val
	}
	return current, nil
}

// stringifyInline converts a resolved value for embedding inside a longer string.
func stringifyInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64, int, int64:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
