package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"rocket-nested/internal/metadata"
)

// Record is one entity instance as seen by the writer. ID is nil until the
// record has been persisted.
type Record struct {
	Entity string
	ID     any
	Fields map[string]any
	Errors []ErrorDetail
}

// NewRecord returns an unsaved record of the given entity.
func NewRecord(entity string) *Record {
	return &Record{Entity: entity, Fields: map[string]any{}}
}

// treeWriter persists one input tree. It lives for a single SaveAll or
// CreateAll call and owns that call's transaction through repo.
type treeWriter struct {
	reg       *metadata.Registry
	repo      Repository
	validator Validator

	// createAll forces every nested record that is not deleted to be inserted.
	createAll bool
	errs      []ErrorDetail
}

func (w *treeWriter) fail(path string, details ...ErrorDetail) {
	w.errs = append(w.errs, prefixDetails(path, details)...)
}

// persistTree validates and writes rec with the attributes in input, then
// writes every nested relation present in input. It returns false when any
// record in the subtree failed validation; the failures are collected on w.
// Storage failures and ambiguous matches are returned as errors and abort
// the walk.
func (w *treeWriter) persistTree(ctx context.Context, rec *Record, input map[string]any, forceCreate bool, path string) (bool, error) {
	entity := w.reg.GetEntity(rec.Entity)
	if entity == nil {
		return false, fmt.Errorf("unknown entity %s", rec.Entity)
	}

	attrs, rels, unknown := w.splitInput(entity, input)
	if len(unknown) > 0 {
		w.fail(path, unknown...)
		return false, nil
	}

	// An empty primary key is the same as no key.
	if isEmptyKey(attrs[entity.PrimaryKey.Field]) {
		delete(attrs, entity.PrimaryKey.Field)
	}

	isCreate := forceCreate || rec.ID == nil
	old := map[string]any{}
	if isCreate {
		if entity.PrimaryKey.Generated && forceCreate {
			delete(attrs, entity.PrimaryKey.Field)
		} else if rec.ID != nil && isEmptyKey(attrs[entity.PrimaryKey.Field]) {
			attrs[entity.PrimaryKey.Field] = rec.ID
		}
	} else {
		row, err := w.repo.FindByPK(ctx, entity, rec.ID)
		if err != nil {
			return false, fmt.Errorf("load %s %v: %w", entity.Name, rec.ID, err)
		}
		old = row
		delete(attrs, entity.PrimaryKey.Field)
	}

	if errs := w.validator.Validate(ctx, entity, attrs, old, isCreate); len(errs) > 0 {
		w.fail(path, errs...)
		return false, nil
	}

	if isCreate {
		id, err := w.repo.Insert(ctx, entity, attrs)
		if err != nil {
			return false, err
		}
		rec.ID = id
	} else if err := w.repo.Update(ctx, entity, rec.ID, attrs); err != nil {
		return false, err
	}

	ok := true
	for _, name := range sortedKeys(rels) {
		rel := rels[name]
		in, err := NormalizeInput(input[name], rel)
		if err != nil {
			w.fail(joinPath(path, name), ErrorDetail{Rule: "invalid_nested", Message: err.Error()})
			ok = false
			continue
		}
		if in == nil {
			continue
		}

		parentKey, err := w.sourceKey(ctx, entity, rec, rel, attrs, old)
		if err != nil {
			return false, err
		}

		var relOK bool
		if rel.IsManyToMany() {
			relOK, err = w.syncPivot(ctx, parentKey, rel, in, joinPath(path, name))
		} else {
			relOK, err = w.writeOwned(ctx, parentKey, rel, in, joinPath(path, name))
		}
		if err != nil {
			return false, err
		}
		ok = ok && relOK
	}
	return ok, nil
}

// splitInput separates plain attributes from relation fields. Keys that are
// neither, and reserved keys other than the known directives, are reported.
func (w *treeWriter) splitInput(entity *metadata.Entity, input map[string]any) (map[string]any, map[string]*metadata.Relation, []ErrorDetail) {
	attrs := make(map[string]any)
	rels := make(map[string]*metadata.Relation)
	var unknown []ErrorDetail

	for _, key := range sortedKeys(input) {
		switch {
		case isDirective(key):
			continue
		case strings.HasPrefix(key, metadata.ReservedPrefix):
			unknown = append(unknown, ErrorDetail{
				Field:   key,
				Rule:    "unknown_directive",
				Message: fmt.Sprintf("Unknown directive: %s", key),
			})
		case entity.HasField(key) || key == entity.PrimaryKey.Field:
			attrs[key] = input[key]
		default:
			if rel, ok := w.reg.ResolveRelation(entity.Name, key); ok {
				rels[key] = rel
				continue
			}
			unknown = append(unknown, ErrorDetail{
				Field:   key,
				Rule:    "unknown",
				Message: fmt.Sprintf("Unknown field or relation: %s", key),
			})
		}
	}
	return attrs, rels, unknown
}

// sourceKey returns the value of the relation's local key on the parent.
func (w *treeWriter) sourceKey(ctx context.Context, entity *metadata.Entity, rec *Record, rel *metadata.Relation, attrs, old map[string]any) (any, error) {
	if rel.SourceKey == entity.PrimaryKey.Field {
		return rec.ID, nil
	}
	if v, ok := attrs[rel.SourceKey]; ok {
		return v, nil
	}
	if v, ok := old[rel.SourceKey]; ok {
		return v, nil
	}
	row, err := w.repo.FindByPK(ctx, entity, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load %s %v: %w", entity.Name, rec.ID, err)
	}
	return row[rel.SourceKey], nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
