package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Filter is an exact-match, conjunctive query. Each condition is either
// present or absent; there is no null-matching and no OR, range or regex
// semantics.
type Filter struct {
	conds []condition
}

type condition struct {
	field string
	value any
}

// NewFilter returns an empty filter that matches every document.
func NewFilter() *Filter {
	return &Filter{}
}

// Eq adds the condition field == value. A later Eq on the same field
// replaces the earlier one.
func (f *Filter) Eq(field string, value any) *Filter {
	for i := range f.conds {
		if f.conds[i].field == field {
			f.conds[i].value = value
			return f
		}
	}
	f.conds = append(f.conds, condition{field: field, value: value})
	return f
}

// OptionalEq adds field == *value when value is non-nil and leaves the
// filter untouched otherwise.
func OptionalEq[T any](f *Filter, field string, value *T) *Filter {
	if value == nil {
		return f
	}
	return f.Eq(field, *value)
}

// Len returns the number of conditions.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.conds)
}

// Fields returns the conditions as a map.
func (f *Filter) Fields() map[string]any {
	out := make(map[string]any, f.Len())
	if f == nil {
		return out
	}
	for _, c := range f.conds {
		out[c.field] = c.value
	}
	return out
}

// idCondition splits the identity condition from the body conditions.
func (f *Filter) idCondition() (id string, hasID bool, rest []condition) {
	if f == nil {
		return "", false, nil
	}
	for _, c := range f.conds {
		if c.field == IDField {
			id, hasID = fmt.Sprint(c.value), true
			continue
		}
		rest = append(rest, c)
	}
	return id, hasID, rest
}

// Match reports whether doc satisfies every condition.
func (f *Filter) Match(doc Document) bool {
	if f == nil {
		return true
	}
	for _, c := range f.conds {
		v, ok := doc[c.field]
		if !ok {
			return false
		}
		want, err := normalize(c.value)
		if err != nil || !jsonEqual(v, want) {
			return false
		}
	}
	return true
}

// normalize converts v to the shape encoding/json produces when decoding,
// so values written by callers compare equal to values read back.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonEqual(a, b any) bool {
	na, err := normalize(a)
	if err != nil {
		return false
	}
	nb, err := normalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}
