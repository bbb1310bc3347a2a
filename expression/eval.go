package expression

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/spf13/cast"
)

type node interface {
	eval(root map[string]any) any
}

type refNode struct {
	ref reference
}

func (n *refNode) eval(root map[string]any) any {
	return n.ref.lookup(root)
}

type literalNode struct {
	value any
}

func (n *literalNode) eval(root map[string]any) any {
	return n.value
}

type notNode struct {
	operand node
}

func (n *notNode) eval(root map[string]any) any {
	return !Truthy(n.operand.eval(root))
}

type logicalNode struct {
	op          tokenKind
	left, right node
}

func (n *logicalNode) eval(root map[string]any) any {
	left := Truthy(n.left.eval(root))
	if n.op == tokAnd {
		return left && Truthy(n.right.eval(root))
	}
	return left || Truthy(n.right.eval(root))
}

type compareNode struct {
	op          tokenKind
	left, right node
}

func (n *compareNode) eval(root map[string]any) any {
	l := n.left.eval(root)
	r := n.right.eval(root)
	switch n.op {
	case tokEq:
		return equal(l, r)
	case tokNeq:
		return !equal(l, r)
	}
	if lf, ok := toNumber(l); ok {
		if rf, ok := toNumber(r); ok {
			switch n.op {
			case tokGt:
				return lf > rf
			case tokLt:
				return lf < rf
			case tokGte:
				return lf >= rf
			case tokLte:
				return lf <= rf
			}
		}
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch n.op {
		case tokGt:
			return ls > rs
		case tokLt:
			return ls < rs
		case tokGte:
			return ls >= rs
		case tokLte:
			return ls <= rs
		}
	}
	return false
}

func isNumeric(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// toNumber accepts numbers and numeric strings. Booleans and nil are not numbers.
func toNumber(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if _, ok := v.(bool); ok {
		return 0, false
	}
	if !isNumeric(v) {
		if _, ok := v.(string); !ok {
			return 0, false
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func equal(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if isNumeric(l) || isNumeric(r) {
		lf, lok := toNumber(l)
		rf, rok := toNumber(r)
		return lok && rok && lf == rf
	}
	return reflect.DeepEqual(l, r)
}

// Truthy reports whether value counts as true in a condition. Undefined
// (nil), false, zero, "" and empty collections are false.
func Truthy(value any) bool {
	if value == nil {
		return false
	}
	if b, ok := value.(bool); ok {
		return b
	}
	if isNumeric(value) {
		f, _ := toNumber(value)
		return f != 0
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return v.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !v.IsNil()
	}
	return true
}

// Stringify renders value for template interpolation; nil becomes "".
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return cast.ToString(v)
	}
	if isNumeric(value) {
		return cast.ToString(value)
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.Marshal(value)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", value)
}
