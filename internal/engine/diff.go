package engine

import (
	"context"
	"fmt"
	"strconv"

	"rocket-nested/internal/metadata"
)

// writeOwned applies a record list to a one_to_many or one_to_one relation.
// Children are matched against the parent's current children; the write
// mode decides what happens to children the list does not mention.
func (w *treeWriter) writeOwned(ctx context.Context, parentKey any, rel *metadata.Relation, in NestedInput, path string) (bool, error) {
	target := w.reg.GetEntity(rel.Target)
	if target == nil {
		return false, fmt.Errorf("unknown target entity: %s", rel.Target)
	}

	list, isList := in.(*RecordList)
	if !isList {
		sync := in.(*SyncSetInput)
		if len(sync.IDs) > 0 {
			w.fail(path, ErrorDetail{Rule: "sync_not_supported", Message: fmt.Sprintf("%s does not accept a list of ids", rel.Name)})
			return false, nil
		}
		list = &RecordList{}
	}
	if rel.IsOneToOne() && len(list.Items) > 1 {
		w.fail(path, ErrorDetail{Rule: "too_many", Message: fmt.Sprintf("%s accepts a single record", rel.Name)})
		return false, nil
	}

	mode := rel.DefaultWriteMode()
	pkField := target.PrimaryKey.Field

	current, err := w.repo.FindByForeignKey(ctx, target, rel.TargetKey, parentKey)
	if err != nil {
		return false, err
	}
	touched := make(map[string]bool)

	ok := true
	for i, item := range list.Items {
		itemPath := path
		if !list.Single {
			itemPath = joinPath(path, strconv.Itoa(i))
		}
		dir := Classify(item, pkField)

		if dir.Kind == Delete {
			if mode == "append" {
				w.fail(itemPath, ErrorDetail{Rule: "append_only", Message: fmt.Sprintf("%s does not allow deletes", rel.Name)})
				ok = false
				continue
			}
			match := StripDirectives(item)
			if dir.MatchKey == nil {
				delete(match, pkField)
			}
			child, err := matchChild(current, pkField, dir.MatchKey, match)
			if err != nil {
				return false, fmt.Errorf("%s: %w", itemPath, err)
			}
			if err := w.repo.Delete(ctx, target, child[pkField]); err != nil {
				return false, err
			}
			touched[keyString(child[pkField])] = true
			current = withoutRow(current, pkField, child[pkField])
			continue
		}

		attrs := StripDirectives(item)
		attrs[rel.TargetKey] = parentKey
		child := &Record{Entity: target.Name}
		forceCreate := dir.Kind == ForceCreate || w.createAll

		// A one_to_one parent keeps a single child: a keyless item updates it.
		if rel.IsOneToOne() && dir.MatchKey == nil && len(current) > 0 && !w.createAll {
			if dir.Kind == ForceCreate || mode == "append" {
				w.fail(itemPath, ErrorDetail{Rule: "already_linked", Message: fmt.Sprintf("%s already has a %s", rel.Source, rel.Name)})
				ok = false
				continue
			}
			child.ID = current[0][pkField]
			touched[keyString(child.ID)] = true
		}

		if dir.Kind == Upsert && dir.MatchKey != nil && !w.createAll {
			if mode == "append" {
				continue
			}
			existing := findRow(current, pkField, dir.MatchKey)
			if existing == nil {
				return false, fmt.Errorf("%s: %w", itemPath,
					ambiguous("%s %v is not linked to this %s", target.Name, dir.MatchKey, rel.Source))
			}
			child.ID = existing[pkField]
			touched[keyString(child.ID)] = true
		}

		childOK, err := w.persistTree(ctx, child, attrs, forceCreate, itemPath)
		if err != nil {
			return false, err
		}
		ok = ok && childOK
	}

	if mode == "replace" && ok {
		for _, row := range current {
			if touched[keyString(row[pkField])] {
				continue
			}
			if err := w.repo.Delete(ctx, target, row[pkField]); err != nil {
				return false, err
			}
		}
	}
	return ok, nil
}

// matchChild finds the single current child addressed by a delete item:
// by primary key when one is given, otherwise by equality of every
// attribute the item carries.
func matchChild(current []map[string]any, pkField string, key any, attrs map[string]any) (map[string]any, error) {
	if key != nil {
		if row := findRow(current, pkField, key); row != nil {
			return row, nil
		}
		return nil, ambiguous("no linked record with %s %v", pkField, key)
	}
	if len(attrs) == 0 {
		return nil, ambiguous("delete requires %s or matching attributes", pkField)
	}

	var matches []map[string]any
	for _, row := range current {
		if rowMatches(row, attrs) {
			matches = append(matches, row)
		}
	}
	if len(matches) != 1 {
		return nil, ambiguous("delete matched %d linked records", len(matches))
	}
	return matches[0], nil
}

func rowMatches(row, attrs map[string]any) bool {
	for k, v := range attrs {
		stored, ok := row[k]
		if !ok || keyString(stored) != keyString(v) {
			return false
		}
	}
	return true
}

func findRow(rows []map[string]any, pkField string, key any) map[string]any {
	want := keyString(key)
	for _, row := range rows {
		if keyString(row[pkField]) == want {
			return row
		}
	}
	return nil
}

func withoutRow(rows []map[string]any, pkField string, key any) []map[string]any {
	want := keyString(key)
	out := rows[:0:0]
	for _, row := range rows {
		if keyString(row[pkField]) != want {
			out = append(out, row)
		}
	}
	return out
}
