package expression

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mohitkumar/stepflow/model"
	"github.com/oliveagle/jsonpath"
)

// Context is the data a run exposes to expressions: $input, $output,
// $<stepId> and variables by name. Reserved names shadow step ids, which
// shadow variables.
type Context struct {
	Input     map[string]any
	Output    any
	Steps     map[string]model.StepResult
	Variables map[string]any
}

func NewContext(run *model.Run) *Context {
	return &Context{
		Input:     run.Input,
		Output:    run.Output,
		Steps:     run.State.StepResults,
		Variables: run.State.Variables,
	}
}

func (c *Context) root() map[string]any {
	root := make(map[string]any, len(c.Variables)+len(c.Steps)+3)
	for k, v := range c.Variables {
		root[k] = v
	}
	for id, res := range c.Steps {
		root[id] = stepView(res)
	}
	root["variables"] = c.Variables
	root["input"] = c.Input
	root["output"] = c.Output
	return root
}

func stepView(res model.StepResult) map[string]any {
	return map[string]any{
		"stepId":   res.StepId,
		"status":   string(res.Status),
		"output":   res.Output,
		"error":    res.Error,
		"success":  res.Status == model.STEP_SUCCESS,
		"failed":   res.Status == model.STEP_FAILURE,
		"skipped":  res.Status == model.STEP_SKIPPED,
		"duration": res.Duration.Milliseconds(),
	}
}

type segment struct {
	key     string
	index   int
	isIndex bool
}

type reference struct {
	raw      string
	segments []segment
	optional bool
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9') || ch == '-'
}

// parseReference parses "$a.b[0].c" (optionally suffixed with "?").
func parseReference(raw string) (reference, error) {
	ref := reference{raw: raw}
	s := raw
	if strings.HasSuffix(s, "?") {
		ref.optional = true
		s = s[:len(s)-1]
	}
	if !strings.HasPrefix(s, "$") {
		return ref, fmt.Errorf("reference %q must start with $", raw)
	}
	s = s[1:]
	i := 0
	readIdent := func() (string, error) {
		start := i
		if i >= len(s) || !isIdentStart(s[i]) {
			return "", fmt.Errorf("reference %q: expected name at offset %d", raw, i+1)
		}
		for i < len(s) && isIdentChar(s[i]) {
			i++
		}
		return s[start:i], nil
	}
	name, err := readIdent()
	if err != nil {
		return ref, err
	}
	ref.segments = append(ref.segments, segment{key: name})
	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			key, err := readIdent()
			if err != nil {
				return ref, err
			}
			ref.segments = append(ref.segments, segment{key: key})
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return ref, fmt.Errorf("reference %q: unclosed [", raw)
			}
			idx, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || idx < 0 {
				return ref, fmt.Errorf("reference %q: index must be a non-negative integer", raw)
			}
			ref.segments = append(ref.segments, segment{index: idx, isIndex: true})
			i += end + 1
		default:
			return ref, fmt.Errorf("reference %q: unexpected %q at offset %d", raw, s[i], i+1)
		}
	}
	return ref, nil
}

func (r reference) jsonPath(segments []segment) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, seg := range segments {
		if seg.isIndex {
			sb.WriteString("[")
			sb.WriteString(strconv.Itoa(seg.index))
			sb.WriteString("]")
		} else {
			sb.WriteString(".")
			sb.WriteString(seg.key)
		}
	}
	return sb.String()
}

// lookup returns nil for anything that does not resolve.
func (r reference) lookup(root map[string]any) any {
	n := len(r.segments)
	last := r.segments[n-1]
	if n > 1 && !last.isIndex && last.key == "length" {
		parent, err := jsonpath.JsonPathLookup(root, r.jsonPath(r.segments[:n-1]))
		if err != nil || parent == nil {
			return nil
		}
		if m, ok := parent.(map[string]any); ok {
			if v, ok := m["length"]; ok {
				return v
			}
		}
		return lengthOf(parent)
	}
	value, err := jsonpath.JsonPathLookup(root, r.jsonPath(r.segments))
	if err != nil {
		return nil
	}
	return value
}

func lengthOf(value any) any {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len()
	}
	return nil
}
