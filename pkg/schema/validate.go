package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/effective-security/x/slices"
)

// Violation is one mismatch between a value and a schema.
type Violation struct {
	// Path is a JSONPath-like location, $ is the root
	Path    string
	Message string
}

// ValidationError lists every violation found.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Path+": "+v.Message)
	}
	return strings.Join(parts, "; ")
}

// Validate checks a decoded JSON value (as produced by encoding/json into
// an any) against the node. It returns *ValidationError on mismatch.
func (n *Node) Validate(value any) error {
	var v validator
	v.check(n, value, "$")
	if len(v.violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: v.violations}
}

type validator struct {
	violations []Violation
}

func (v *validator) fail(path, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	v.violations = append(v.violations, Violation{Path: path, Message: msg})
}

func (v *validator) check(n *Node, value any, path string) {
	if n == nil {
		return
	}
	if value == nil {
		if n.Nullable || n.Kind == KindNull || (n.Kind == KindAny && len(n.AnyOf) == 0) {
			return
		}
	}

	if len(n.AnyOf) > 0 {
		matched := false
		for _, alt := range n.AnyOf {
			var sub validator
			sub.check(alt, value, path)
			if len(sub.violations) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			v.fail(path, "does not match any allowed schema")
			return
		}
	}

	switch n.Kind {
	case KindAny:
	case KindNull:
		if value != nil {
			v.fail(path, "expected null, got %s", typeName(value))
			return
		}
	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			v.fail(path, "expected object, got %s", typeName(value))
			return
		}
		v.checkObject(n, obj, path)
	case KindArray:
		list, ok := value.([]any)
		if !ok {
			v.fail(path, "expected array, got %s", typeName(value))
			return
		}
		if n.MinItems != nil && len(list) < *n.MinItems {
			v.fail(path, "expected at least %d items, got %d", *n.MinItems, len(list))
		}
		if n.MaxItems != nil && len(list) > *n.MaxItems {
			v.fail(path, "expected at most %d items, got %d", *n.MaxItems, len(list))
		}
		for i, item := range list {
			v.check(n.Items, item, path+"["+strconv.Itoa(i)+"]")
		}
	case KindString:
		s, ok := value.(string)
		if !ok {
			v.fail(path, "expected string, got %s", typeName(value))
			return
		}
		l := utf8.RuneCountInString(s)
		if n.MinLength != nil && l < *n.MinLength {
			v.fail(path, "expected at least %d characters", *n.MinLength)
		}
		if n.MaxLength != nil && l > *n.MaxLength {
			v.fail(path, "expected at most %d characters", *n.MaxLength)
		}
	case KindNumber, KindInteger:
		f, ok := toFloat(value)
		if !ok {
			v.fail(path, "expected %s, got %s", n.Kind, typeName(value))
			return
		}
		if n.Kind == KindInteger && f != math.Trunc(f) {
			v.fail(path, "expected integer, got %v", f)
		}
		if n.Minimum != nil && f < *n.Minimum {
			v.fail(path, "must be >= %v", *n.Minimum)
		}
		if n.Maximum != nil && f > *n.Maximum {
			v.fail(path, "must be <= %v", *n.Maximum)
		}
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			v.fail(path, "expected boolean, got %s", typeName(value))
			return
		}
	}

	if len(n.Enum) > 0 && !inEnum(n.Enum, value) {
		v.fail(path, "must be one of %s", enumString(n.Enum))
	}
}

func (v *validator) checkObject(n *Node, obj map[string]any, path string) {
	for _, name := range n.Required {
		if _, ok := obj[name]; !ok {
			v.fail(path, "missing required property %q", name)
		}
	}
	for key, val := range obj {
		var child *Node
		if n.Properties != nil {
			child, _ = n.Properties.Get(key)
		}
		if child == nil {
			if n.AdditionalProperties != nil && !*n.AdditionalProperties {
				v.fail(path, "unexpected property %q", key)
			}
			continue
		}
		v.check(child, val, path+"."+key)
	}
}

func toFloat(value any) (float64, bool) {
	switch t := value.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func inEnum(enum []any, value any) bool {
	if f, ok := toFloat(value); ok {
		value = f
	}
	for _, e := range enum {
		if reflect.DeepEqual(e, value) {
			return true
		}
	}
	return false
}

func enumString(enum []any) string {
	parts := make([]string, 0, len(enum))
	for _, e := range enum {
		b, _ := json.Marshal(e)
		parts = append(parts, string(b))
	}
	return slices.StringUpto(strings.Join(parts, ", "), 200)
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toFloat(value); ok {
		return "number"
	}
	return reflect.TypeOf(value).String()
}
