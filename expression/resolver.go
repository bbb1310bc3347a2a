package expression

import (
	"fmt"
	"regexp"
	"strings"
)

const identPattern = `[A-Za-z_](?:[A-Za-z0-9_-]*[A-Za-z0-9_])?`
const refPattern = `\$` + identPattern + `(?:\.` + identPattern + `|\[\d+\])*`

var templateRegex = regexp.MustCompile(`\{(` + refPattern + `)\}|` + refPattern)
var singleRefRegex = regexp.MustCompile(`^\{?(` + refPattern + `)\}?(\?)?$`)

// UnresolvedReferenceError is returned when a required reference has no value.
type UnresolvedReferenceError struct {
	Reference string
}

func (e UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("required reference %s is undefined", e.Reference)
}

// Evaluate evaluates expr as a condition. Undefined references are falsy.
func Evaluate(expr string, ctx *Context) (bool, error) {
	parsed, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return Truthy(parsed.Eval(ctx)), nil
}

// Resolve returns the value of expr, nil when it is undefined.
func Resolve(expr string, ctx *Context) (any, error) {
	trimmed := strings.TrimSpace(expr)
	if m := singleRefRegex.FindStringSubmatch(trimmed); m != nil {
		ref, err := parseReference(m[1])
		if err != nil {
			return nil, err
		}
		return ref.lookup(ctx.root()), nil
	}
	parsed, err := Parse(trimmed)
	if err != nil {
		return nil, err
	}
	return parsed.Eval(ctx), nil
}

// IsReference reports whether s is exactly one reference, like "$search.output".
func IsReference(s string) bool {
	return singleRefRegex.MatchString(strings.TrimSpace(s))
}

// Interpolate replaces every $ref or {$ref} in template with its string
// form. Undefined references become "".
func Interpolate(template string, ctx *Context) string {
	if !strings.Contains(template, "$") {
		return template
	}
	root := ctx.root()
	return templateRegex.ReplaceAllStringFunc(template, func(match string) string {
		raw := strings.TrimSuffix(strings.TrimPrefix(match, "{"), "}")
		ref, err := parseReference(raw)
		if err != nil {
			return match
		}
		return Stringify(ref.lookup(root))
	})
}

// ResolveArgs resolves every value of args. A value that is exactly one
// reference is required unless suffixed with "?"; references embedded in
// longer strings are interpolated.
func ResolveArgs(args map[string]any, ctx *Context) (map[string]any, error) {
	out := make(map[string]any, len(args))
	if err := resolveParams(args, ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveValue applies the ResolveArgs rules to a single value.
func ResolveValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		if err := resolveParams(v, ctx, out); err != nil {
			return nil, err
		}
		return out, nil
	case []any:
		return resolveList(v, ctx)
	case string:
		return resolveString(v, ctx)
	}
	return value, nil
}

func resolveParams(params map[string]any, ctx *Context, output map[string]any) error {
	for k, v := range params {
		resolved, err := ResolveValue(v, ctx)
		if err != nil {
			return fmt.Errorf("argument %s: %w", k, err)
		}
		output[k] = resolved
	}
	return nil
}

func resolveList(list []any, ctx *Context) ([]any, error) {
	output := make([]any, 0, len(list))
	for i, v := range list {
		resolved, err := ResolveValue(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		output = append(output, resolved)
	}
	return output, nil
}

func resolveString(s string, ctx *Context) (any, error) {
	trimmed := strings.TrimSpace(s)
	if m := singleRefRegex.FindStringSubmatch(trimmed); m != nil {
		ref, err := parseReference(m[1])
		if err != nil {
			return nil, err
		}
		value := ref.lookup(ctx.root())
		if value == nil && m[2] == "" {
			return nil, UnresolvedReferenceError{Reference: m[1]}
		}
		return value, nil
	}
	return Interpolate(s, ctx), nil
}

// Validate checks the syntax of a condition expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// ValidateReference checks that s is a single well formed reference.
func ValidateReference(s string) error {
	m := singleRefRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return SyntaxError{Expression: s, Message: "expected a single $reference"}
	}
	_, err := parseReference(m[1])
	return err
}
