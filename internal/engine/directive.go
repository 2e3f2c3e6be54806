package engine

import (
	"fmt"
	"reflect"
	"strings"

	"rocket-nested/internal/metadata"
)

const (
	DirectiveDelete = "_delete"
	DirectiveCreate = "_create"
)

// DirectiveKind classifies the intended action for one nested item.
type DirectiveKind int

const (
	Upsert DirectiveKind = iota
	Delete
	ForceCreate
	SyncSet
)

func (k DirectiveKind) String() string {
	switch k {
	case Delete:
		return "delete"
	case ForceCreate:
		return "force_create"
	case SyncSet:
		return "sync_set"
	default:
		return "upsert"
	}
}

// Directive is the classification of a nested item. MatchKey is the
// non-empty primary key value carried by the item, or nil.
type Directive struct {
	Kind     DirectiveKind
	MatchKey any
	IDs      []any
}

// Classify inspects one nested item. A sequence of scalars is a sync set;
// a mapping is classified by its directive markers, _delete winning over _create.
// A lone scalar is an upsert reference to that primary key.
func Classify(item any, pkField string) Directive {
	m, ok := asMap(item)
	if !ok {
		if ids, ok := asScalars(item); ok {
			return Directive{Kind: SyncSet, IDs: ids}
		}
		if isEmptyKey(item) {
			return Directive{Kind: Upsert}
		}
		return Directive{Kind: Upsert, MatchKey: item}
	}

	key := m[pkField]
	if isEmptyKey(key) {
		key = nil
	}
	switch {
	case truthy(m[DirectiveDelete]):
		return Directive{Kind: Delete, MatchKey: key}
	case truthy(m[DirectiveCreate]):
		return Directive{Kind: ForceCreate}
	default:
		return Directive{Kind: Upsert, MatchKey: key}
	}
}

// StripDirectives returns a shallow copy of item without reserved keys.
func StripDirectives(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		if strings.HasPrefix(k, metadata.ReservedPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

func isDirective(key string) bool {
	return key == DirectiveDelete || key == DirectiveCreate
}

// truthy accepts true, non-zero numbers and the strings "1" and "true".
func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "1" || s == "true"
	}
	if f, ok := toFloat64(v); ok {
		return f != 0
	}
	return false
}

// isEmptyKey reports whether a primary key value means "no match".
func isEmptyKey(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// NestedInput is the normalized form of a relation field's raw value:
// either *SyncSetInput or *RecordList.
type NestedInput interface {
	nestedInput()
}

// SyncSetInput is a desired complete set of linked target ids. Extra holds
// pivot columns given alongside the ids; they apply to every listed link.
type SyncSetInput struct {
	Key   string
	IDs   []any
	Extra map[string]any
}

// RecordList is an ordered list of nested record mappings. Single is set
// when the input was one mapping rather than a sequence.
type RecordList struct {
	Items  []map[string]any
	Single bool
}

func (*SyncSetInput) nestedInput() {}
func (*RecordList) nestedInput()   {}

// NormalizeInput converts the raw value of a relation field into a NestedInput.
// A nil value yields nil. A mapping whose target join key holds a sequence
// of scalars, and whose other keys are all pivot columns, is a keyed sync set.
func NormalizeInput(raw any, rel *metadata.Relation) (NestedInput, error) {
	if raw == nil {
		return nil, nil
	}

	if m, ok := asMap(raw); ok {
		if set, ok := keyedSyncSet(m, rel); ok {
			return set, nil
		}
		return &RecordList{Items: []map[string]any{m}, Single: true}, nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected an object or a list, got %T", raw)
	}
	if rv.Len() == 0 {
		return &SyncSetInput{Key: rel.TargetJoinKey}, nil
	}
	if ids, ok := asScalars(raw); ok {
		return &SyncSetInput{Key: rel.TargetJoinKey, IDs: ids}, nil
	}

	list := &RecordList{Items: make([]map[string]any, 0, rv.Len())}
	for i := 0; i < rv.Len(); i++ {
		m, ok := asMap(rv.Index(i).Interface())
		if !ok {
			return nil, fmt.Errorf("item %d: cannot mix records and ids in one list", i)
		}
		list.Items = append(list.Items, m)
	}
	return list, nil
}

func keyedSyncSet(m map[string]any, rel *metadata.Relation) (*SyncSetInput, bool) {
	if rel.TargetJoinKey == "" {
		return nil, false
	}
	ids, ok := asScalars(m[rel.TargetJoinKey])
	if !ok {
		return nil, false
	}
	var extra map[string]any
	for k, v := range m {
		if k == rel.TargetJoinKey {
			continue
		}
		if !rel.IsJoinColumn(k) {
			return nil, false
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return &SyncSetInput{Key: rel.TargetJoinKey, IDs: ids, Extra: extra}, true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// asScalars returns the elements of a slice when none of them is a mapping
// or a nested sequence.
func asScalars(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	ids := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		switch reflect.ValueOf(elem).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
			return nil, false
		}
		ids = append(ids, elem)
	}
	return ids, true
}
