package expression

import (
	"errors"
	"testing"
	"time"

	"github.com/mohitkumar/stepflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *Context {
	return &Context{
		Input: map[string]any{"query": "golang", "limit": 5},
		Steps: map[string]model.StepResult{
			"search": {
				StepId: "search",
				Status: model.STEP_SUCCESS,
				Output: map[string]any{
					"count": 0,
					"items": []any{
						map[string]any{"title": "a"},
						map[string]any{"title": "b"},
					},
				},
				Duration: 20 * time.Millisecond,
			},
			"notify": {StepId: "notify", Status: model.STEP_FAILURE, Error: "smtp down"},
		},
		Variables: map[string]any{
			"threshold": 3,
			"search":    "shadowed by the step",
			"box":       map[string]any{"length": 7},
		},
		Output: map[string]any{"x": 1},
	}
}

func TestEvaluateConditions(t *testing.T) {
	ctx := testContext()
	tests := []struct {
		expr string
		want bool
	}{
		{"$search.output.count > 0", false},
		{"$search.output.count == 0", true},
		{"$search.success && $input.limit > 3", true},
		{"$search.output.items.length > 1", true},
		{"$search.output.items.length == 2", true},
		{"$missing.output.count > 0", false},
		{"$missing", false},
		{"!$missing", true},
		{"$input.query == 'golang'", true},
		{`$input.query == "other" || $threshold < 5`, true},
		{"$variables.threshold == 3", true},
		{"$search.output.items[1].title == 'b'", true},
		{"($search.failed || $search.skipped) && true", false},
		{"$notify.failed && $notify.error == 'smtp down'", true},
		{"$input.query.length == 6", true},
		{"$output.x >= 1", true},
		{"$search.status == 'success'", true},
		{"$input.limit == '5'", true},
		{"$input.limit != 5", false},
		{"null == $missing", true},
		{"$box.length == 7", true},
		{"$search.duration <= 20", true},
		{"-1 < $search.output.count", true},
		{"$input.query > 5", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateMalformed(t *testing.T) {
	for _, expr := range []string{"", "$a >", "$a && && $b", "foo == 1", "'unterminated", "$a.[0]", "($a == 1", "$a == 1)", "$a[x]", "$a # 1"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr, testContext())
			require.Error(t, err)
			var syntaxErr SyntaxError
			assert.True(t, errors.As(err, &syntaxErr))
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := testContext()

	v, err := Resolve("$search.output.items[0]", ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "a"}, v)

	v, err = Resolve("{$input.query}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "golang", v)

	v, err = Resolve("$nothing.here", ctx)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Resolve("$search.status", ctx)
	require.NoError(t, err)
	assert.Equal(t, "success", v)

	v, err = Resolve("$input.limit > 1", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestInterpolate(t *testing.T) {
	ctx := testContext()
	got := Interpolate("Summarize {$input.query} results: $search.output.count items, missing=[$nope.value].", ctx)
	assert.Equal(t, "Summarize golang results: 0 items, missing=[].", got)

	assert.Equal(t, `first={"title":"a"}`, Interpolate("first=$search.output.items[0]", ctx))
	assert.Equal(t, "costs $5", Interpolate("costs $5", ctx))
	assert.Equal(t, "no refs", Interpolate("no refs", ctx))
}

func TestResolveArgs(t *testing.T) {
	ctx := testContext()
	args := map[string]any{
		"q":    "$input.query",
		"n":    "$input.limit",
		"opt":  "$nope?",
		"text": "q=$input.query",
		"nested": map[string]any{
			"list": []any{"$search.output.count", 1, []any{"{$input.query}"}},
		},
		"literal": 42,
	}
	out, err := ResolveArgs(args, ctx)
	require.NoError(t, err)
	assert.Equal(t, "golang", out["q"])
	assert.Equal(t, 5, out["n"])
	assert.Nil(t, out["opt"])
	assert.Contains(t, out, "opt")
	assert.Equal(t, "q=golang", out["text"])
	assert.Equal(t, map[string]any{"list": []any{0, 1, []any{"golang"}}}, out["nested"])
	assert.Equal(t, 42, out["literal"])
}

func TestResolveArgsMissingRequired(t *testing.T) {
	_, err := ResolveArgs(map[string]any{"x": "$nope.value"}, testContext())
	require.Error(t, err)
	var unresolved UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "$nope.value", unresolved.Reference)
}

func TestValidateReference(t *testing.T) {
	assert.NoError(t, ValidateReference("$search.output.items[0]"))
	assert.NoError(t, ValidateReference("$input.x?"))
	assert.Error(t, ValidateReference("search.output"))
	assert.Error(t, ValidateReference("$a && $b"))
	assert.True(t, IsReference(" $a.b "))
	assert.False(t, IsReference("hello $a.b"))
}

func TestTruthyAndStringify(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy(map[string]any{"a": 1}))
	assert.True(t, Truthy(2.5))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "3", Stringify(3.0))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `[1,2]`, Stringify([]any{1, 2}))
}
