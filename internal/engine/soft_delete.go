package engine

import (
	"context"
	"fmt"

	"rocket-nested/internal/metadata"
	"rocket-nested/internal/store"
)

// Delete removes a row by primary key. Soft-deletable entities get deleted_at
// stamped instead; their pivot rows are detached so the record no longer
// shows up as linked anywhere.
func (r *sqlRepository) Delete(ctx context.Context, entity *metadata.Entity, id any) error {
	var sql string
	var params []any
	if entity.SoftDelete {
		sql, params = BuildSoftDeleteSQL(r.dialect, entity, id)
	} else {
		sql, params = BuildHardDeleteSQL(r.dialect, entity, id)
	}

	n, err := store.Exec(ctx, r.q, sql, params...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", entity.Table, r.dialect.MapError(err))
	}
	if n == 0 {
		return fmt.Errorf("delete %s %v: %w", entity.Name, id, store.ErrNotFound)
	}

	if entity.SoftDelete {
		return r.detachPivots(ctx, entity, id)
	}
	return nil
}

// detachPivots deletes the pivot rows that reference a soft-deleted record
// from either side of a many-to-many relation.
func (r *sqlRepository) detachPivots(ctx context.Context, entity *metadata.Entity, id any) error {
	for _, rel := range r.reg.AllRelations() {
		if !rel.IsManyToMany() {
			continue
		}
		var column string
		switch {
		case rel.Source == entity.Name && rel.SourceKey == entity.PrimaryKey.Field:
			column = rel.SourceJoinKey
		case rel.Target == entity.Name:
			column = rel.TargetJoinKey
		default:
			continue
		}
		pb := r.dialect.NewParamBuilder()
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			rel.JoinTable, column, pb.Add(coerceValue(entity.PrimaryKey.Type, id)))
		if _, err := store.Exec(ctx, r.q, sql, pb.Params()...); err != nil {
			return fmt.Errorf("detach %s from %s: %w", entity.Name, rel.JoinTable, err)
		}
	}
	return nil
}
