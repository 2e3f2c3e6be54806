package engine

import (
	"context"
	"fmt"
	"strconv"

	"rocket-nested/internal/metadata"
)

// syncPivot reconciles the pivot rows of a many_to_many relation for one
// parent. A sync set replaces the linked id set; a record list is applied
// item by item, each item being a pivot mapping (it carries the target join
// key) or a related record.
func (w *treeWriter) syncPivot(ctx context.Context, parentKey any, rel *metadata.Relation, in NestedInput, path string) (bool, error) {
	target := w.reg.GetEntity(rel.Target)
	if target == nil {
		return false, fmt.Errorf("unknown target entity: %s", rel.Target)
	}

	links, err := w.repo.ListPivotLinks(ctx, rel, parentKey)
	if err != nil {
		return false, err
	}
	ps := &pivotSync{w: w, rel: rel, target: target, parentKey: parentKey, links: links, touched: map[int]bool{}, removed: map[int]bool{}}

	switch v := in.(type) {
	case *SyncSetInput:
		return ps.applySyncSet(ctx, v, path)
	case *RecordList:
		return ps.applyRecords(ctx, v, path)
	}
	return true, nil
}

// pivotSync holds the state of one relation's reconciliation. links is the
// current pivot rows; touched and removed mark rows by index.
type pivotSync struct {
	w         *treeWriter
	rel       *metadata.Relation
	target    *metadata.Entity
	parentKey any
	links     []PivotLink
	touched   map[int]bool
	removed   map[int]bool
}

// applySyncSet unlinks ids missing from the set and links new ones. Rows for
// ids that stay linked keep their extras unless the set carries extras, which
// then overwrite those columns on every listed link.
func (ps *pivotSync) applySyncSet(ctx context.Context, set *SyncSetInput, path string) (bool, error) {
	ids := set.IDs
	desired := make(map[string]bool, len(ids))
	for _, id := range ids {
		desired[keyString(id)] = true
	}

	appendOnly := ps.rel.DefaultWriteMode() == "append"
	for _, link := range ps.links {
		if !desired[keyString(link.TargetID)] {
			if appendOnly {
				continue
			}
			if err := ps.w.repo.DeletePivotLink(ctx, ps.rel, link); err != nil {
				return false, err
			}
			continue
		}
		if len(set.Extra) > 0 {
			if err := ps.w.repo.UpdatePivotLink(ctx, ps.rel, link, set.Extra); err != nil {
				return false, err
			}
		}
	}

	linked := make(map[string]bool, len(ps.links))
	for _, link := range ps.links {
		linked[keyString(link.TargetID)] = true
	}

	ok := true
	for _, id := range ids {
		k := keyString(id)
		if linked[k] {
			continue
		}
		if _, err := ps.w.repo.FindByPK(ctx, ps.target, id); err != nil {
			if !isNotFound(err) {
				return false, err
			}
			ps.w.fail(path, ErrorDetail{Rule: "unknown_id", Message: fmt.Sprintf("%s %v does not exist", ps.target.Name, id)})
			ok = false
			continue
		}
		if _, err := ps.w.repo.InsertPivotLink(ctx, ps.rel, ps.parentKey, id, set.Extra); err != nil {
			return false, err
		}
		linked[k] = true
	}
	return ok, nil
}

func (ps *pivotSync) applyRecords(ctx context.Context, list *RecordList, path string) (bool, error) {
	ok := true
	for i, item := range list.Items {
		itemPath := path
		if !list.Single {
			itemPath = joinPath(path, strconv.Itoa(i))
		}

		var itemOK bool
		var err error
		dir := Classify(item, ps.target.PrimaryKey.Field)
		switch {
		case dir.Kind == Delete:
			itemOK, err = ps.unlink(ctx, item, dir, itemPath)
		case ps.isPivotMapping(item):
			itemOK, err = ps.applyMapping(ctx, item, dir, itemPath)
		default:
			itemOK, err = ps.applyRelated(ctx, item, dir, itemPath)
		}
		if err != nil {
			return false, err
		}
		ok = ok && itemOK
	}

	mode := ps.rel.DefaultWriteMode()
	if ok && (mode == "replace" || (mode == "diff" && ps.relatedOnly(list))) {
		for i, link := range ps.links {
			if ps.touched[i] || ps.removed[i] {
				continue
			}
			if err := ps.w.repo.DeletePivotLink(ctx, ps.rel, link); err != nil {
				return false, err
			}
		}
	}
	return ok, nil
}

// relatedOnly reports whether list is a sequence of full related records with
// no pivot mappings or deletes. Such a list is the complete related set.
func (ps *pivotSync) relatedOnly(list *RecordList) bool {
	if list.Single || len(list.Items) == 0 {
		return false
	}
	for _, item := range list.Items {
		if ps.isPivotMapping(item) || truthy(item[DirectiveDelete]) {
			return false
		}
	}
	return true
}

func (ps *pivotSync) isPivotMapping(item map[string]any) bool {
	_, ok := item[ps.rel.TargetJoinKey]
	return ok
}

// split separates the pivot extra columns of item from the attributes of
// the related record. Join keys and directives belong to neither.
func (ps *pivotSync) split(item map[string]any) (extra, attrs map[string]any) {
	extra = make(map[string]any)
	attrs = make(map[string]any)
	for k, v := range StripDirectives(item) {
		switch {
		case k == ps.rel.TargetJoinKey || k == ps.rel.SourceJoinKey:
		case ps.rel.JoinPrimaryKey != "" && k == ps.rel.JoinPrimaryKey:
		case ps.rel.IsJoinColumn(k):
			extra[k] = v
		default:
			attrs[k] = v
		}
	}
	return extra, attrs
}

// unlink deletes the single pivot row addressed by a _delete item. The
// related record itself is kept.
func (ps *pivotSync) unlink(ctx context.Context, item map[string]any, dir Directive, path string) (bool, error) {
	if ps.rel.DefaultWriteMode() == "append" {
		ps.w.fail(path, ErrorDetail{Rule: "append_only", Message: fmt.Sprintf("%s does not allow deletes", ps.rel.Name)})
		return false, nil
	}

	var matches []int
	if key := ps.pivotKey(item); key != nil {
		matches = ps.linksWhere(func(l PivotLink) bool { return keyString(l.ID) == keyString(key) })
	} else {
		targetID := item[ps.rel.TargetJoinKey]
		if isEmptyKey(targetID) {
			targetID = dir.MatchKey
		}
		if targetID == nil {
			return false, fmt.Errorf("%s: %w", path, ambiguous("delete requires %s or %s", ps.rel.TargetJoinKey, ps.target.PrimaryKey.Field))
		}
		matches = ps.linksWhere(func(l PivotLink) bool { return keyString(l.TargetID) == keyString(targetID) })
	}
	if len(matches) != 1 {
		return false, fmt.Errorf("%s: %w", path, ambiguous("delete matched %d %s rows", len(matches), ps.rel.JoinTable))
	}

	if err := ps.w.repo.DeletePivotLink(ctx, ps.rel, ps.links[matches[0]]); err != nil {
		return false, err
	}
	ps.removed[matches[0]] = true
	return true, nil
}

// applyMapping handles an item keyed by the target join key. A pivot
// primary key repoints that row; otherwise the target is linked, creating
// it first when no record with that id exists.
func (ps *pivotSync) applyMapping(ctx context.Context, item map[string]any, dir Directive, path string) (bool, error) {
	targetID := item[ps.rel.TargetJoinKey]
	extra, attrs := ps.split(item)

	if dir.Kind == ForceCreate {
		rec := &Record{Entity: ps.target.Name}
		ok, err := ps.w.persistTree(ctx, rec, attrs, true, path)
		if err != nil || !ok {
			return ok, err
		}
		return true, ps.insertLink(ctx, rec.ID, extra)
	}

	ok, err := ps.ensureTarget(ctx, targetID, attrs, path)
	if err != nil || !ok {
		return ok, err
	}

	if key := ps.pivotKey(item); key != nil {
		idx := ps.linksWhere(func(l PivotLink) bool { return keyString(l.ID) == keyString(key) })
		if len(idx) != 1 {
			return false, fmt.Errorf("%s: %w", path, ambiguous("no %s row with %s %v", ps.rel.JoinTable, ps.rel.JoinPrimaryKey, key))
		}
		fields := map[string]any{ps.rel.TargetJoinKey: targetID}
		for k, v := range extra {
			fields[k] = v
		}
		if err := ps.w.repo.UpdatePivotLink(ctx, ps.rel, ps.links[idx[0]], fields); err != nil {
			return false, err
		}
		ps.touched[idx[0]] = true
		return true, nil
	}

	return true, ps.ensureLink(ctx, targetID, extra)
}

// applyRelated handles a full related record: create it and link it, or
// update it in place and make sure it is linked.
func (ps *pivotSync) applyRelated(ctx context.Context, item map[string]any, dir Directive, path string) (bool, error) {
	extra, attrs := ps.split(item)

	if dir.Kind == ForceCreate || dir.MatchKey == nil || ps.w.createAll {
		rec := &Record{Entity: ps.target.Name}
		ok, err := ps.w.persistTree(ctx, rec, attrs, true, path)
		if err != nil || !ok {
			return ok, err
		}
		return true, ps.insertLink(ctx, rec.ID, extra)
	}

	row, err := ps.w.repo.FindByPK(ctx, ps.target, dir.MatchKey)
	if err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("%s: %w", path, ambiguous("%s %v does not exist", ps.target.Name, dir.MatchKey))
		}
		return false, err
	}
	id := row[ps.target.PrimaryKey.Field]

	if ps.rel.DefaultWriteMode() != "append" {
		rec := &Record{Entity: ps.target.Name, ID: id}
		ok, err := ps.w.persistTree(ctx, rec, attrs, false, path)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, ps.ensureLink(ctx, id, extra)
}

// ensureTarget makes sure a related record with targetID exists. A missing
// one is created from attrs with that id; an existing one receives attrs as
// an update when there are any.
func (ps *pivotSync) ensureTarget(ctx context.Context, targetID any, attrs map[string]any, path string) (bool, error) {
	if isEmptyKey(targetID) {
		ps.w.fail(path, ErrorDetail{Field: ps.rel.TargetJoinKey, Rule: "required", Message: fmt.Sprintf("%s is required", ps.rel.TargetJoinKey)})
		return false, nil
	}

	_, err := ps.w.repo.FindByPK(ctx, ps.target, targetID)
	switch {
	case err == nil:
		if len(attrs) == 0 {
			return true, nil
		}
		return ps.w.persistTree(ctx, &Record{Entity: ps.target.Name, ID: targetID}, attrs, false, path)
	case isNotFound(err):
		create := make(map[string]any, len(attrs)+1)
		for k, v := range attrs {
			create[k] = v
		}
		create[ps.target.PrimaryKey.Field] = targetID
		return ps.w.persistTree(ctx, &Record{Entity: ps.target.Name}, create, false, path)
	default:
		return false, err
	}
}

// ensureLink updates the extras of an existing untouched link to targetID,
// or inserts a new link.
func (ps *pivotSync) ensureLink(ctx context.Context, targetID any, extra map[string]any) error {
	for _, i := range ps.linksWhere(func(l PivotLink) bool { return keyString(l.TargetID) == keyString(targetID) }) {
		if ps.touched[i] {
			continue
		}
		ps.touched[i] = true
		if len(extra) == 0 {
			return nil
		}
		return ps.w.repo.UpdatePivotLink(ctx, ps.rel, ps.links[i], extra)
	}
	return ps.insertLink(ctx, targetID, extra)
}

func (ps *pivotSync) insertLink(ctx context.Context, targetID any, extra map[string]any) error {
	id, err := ps.w.repo.InsertPivotLink(ctx, ps.rel, ps.parentKey, targetID, extra)
	if err != nil {
		return err
	}
	ps.links = append(ps.links, PivotLink{ID: id, SourceID: ps.parentKey, TargetID: targetID, Extra: extra})
	ps.touched[len(ps.links)-1] = true
	return nil
}

func (ps *pivotSync) pivotKey(item map[string]any) any {
	if ps.rel.JoinPrimaryKey == "" {
		return nil
	}
	key := item[ps.rel.JoinPrimaryKey]
	if isEmptyKey(key) {
		return nil
	}
	return key
}

func (ps *pivotSync) linksWhere(match func(PivotLink) bool) []int {
	var idx []int
	for i, l := range ps.links {
		if ps.removed[i] {
			continue
		}
		if match(l) {
			idx = append(idx, i)
		}
	}
	return idx
}
