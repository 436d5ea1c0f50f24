package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/sanitize"
)

// Transform converts a source value before it is sanitized into the payload.
type Transform func(domain.Value) (domain.Value, error)

// DirectiveKind selects how a column's transform is resolved.
type DirectiveKind string

const (
	DirectiveIdentity   DirectiveKind = "identity"
	DirectiveTypeCoerce DirectiveKind = "coerce"
	DirectiveNamed      DirectiveKind = "named"
)

// Directive is the data-only description of a column transform.
type Directive struct {
	Kind DirectiveKind `json:"kind" yaml:"kind"`
	Name string        `json:"name,omitempty" yaml:"name,omitempty"`
}

func (d Directive) String() string {
	if d.Kind == DirectiveIdentity || d.Kind == "" {
		return string(DirectiveIdentity)
	}
	return fmt.Sprintf("%s(%s)", d.Kind, d.Name)
}

// Built-in transform names.
const (
	TransformIdentity  = "identity"
	TransformToText    = "to_text"
	TransformToNumber  = "to_number"
	TransformToBool    = "to_bool"
	TransformTrim      = "trim"
	TransformLowercase = "lowercase"
)

// Registry maps transform names to implementations.
type Registry struct {
	transforms map[string]Transform
}

// NewRegistry returns a registry holding the built-in transforms.
func NewRegistry() *Registry {
	r := &Registry{transforms: make(map[string]Transform)}
	r.Register(TransformIdentity, identity)
	r.Register(TransformToText, toText)
	r.Register(TransformToNumber, toNumber)
	r.Register(TransformToBool, toBool)
	r.Register(TransformTrim, mapString(strings.TrimSpace))
	r.Register(TransformLowercase, mapString(strings.ToLower))
	return r
}

// Register adds or replaces a named transform.
func (r *Registry) Register(name string, fn Transform) {
	r.transforms[name] = fn
}

// Lookup returns the transform registered under name.
func (r *Registry) Lookup(name string) (Transform, bool) {
	fn, ok := r.transforms[name]
	return fn, ok
}

// Names lists the registered transform names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// coercionFor picks the automatic coercion for a destination column type.
func coercionFor(destType string) (string, bool) {
	switch strings.ToLower(destType) {
	case "text", "canvas", "link", "email", "select":
		return TransformToText, true
	case "number", "currency", "percent", "slider", "scale":
		return TransformToNumber, true
	case "checkbox":
		return TransformToBool, true
	}
	return "", false
}

func identity(v domain.Value) (domain.Value, error) { return v, nil }

func toText(v domain.Value) (domain.Value, error) {
	clean, ok := sanitize.Value(v, nil)
	if !ok {
		return domain.Absent(), nil
	}
	return domain.Scalar(sanitize.Text(clean)), nil
}

func toNumber(v domain.Value) (domain.Value, error) {
	clean, ok := sanitize.Value(v, nil)
	if !ok {
		return domain.Absent(), nil
	}
	switch n := clean.(type) {
	case float64:
		return domain.Scalar(n), nil
	case bool:
		if n {
			return domain.Scalar(1.0), nil
		}
		return domain.Scalar(0.0), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return domain.Absent(), nil
		}
		s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "%", "").Replace(s)
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return domain.Value{}, fmt.Errorf("cannot convert %q to a number", n)
		}
		return domain.Scalar(f), nil
	default:
		return domain.Value{}, fmt.Errorf("cannot convert %s value to a number", v.Kind)
	}
}

func toBool(v domain.Value) (domain.Value, error) {
	clean, ok := sanitize.Value(v, nil)
	if !ok {
		return domain.Absent(), nil
	}
	switch b := clean.(type) {
	case bool:
		return domain.Scalar(b), nil
	case float64:
		return domain.Scalar(b != 0), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "y", "1", "x":
			return domain.Scalar(true), nil
		case "false", "no", "n", "0", "":
			return domain.Scalar(false), nil
		}
		return domain.Value{}, fmt.Errorf("cannot convert %q to a boolean", b)
	default:
		return domain.Value{}, fmt.Errorf("cannot convert %s value to a boolean", v.Kind)
	}
}

func mapString(fn func(string) string) Transform {
	return func(v domain.Value) (domain.Value, error) {
		if v.Kind != domain.KindScalar {
			return v, nil
		}
		s, ok := v.Scalar.(string)
		if !ok {
			return v, nil
		}
		return domain.Scalar(fn(s)), nil
	}
}
