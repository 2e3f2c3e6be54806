package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"rocket-nested/internal/metadata"
	"rocket-nested/internal/store"
)

// PivotLink is one pivot row of a many-to-many relation. ID is nil when the
// relation has no pivot primary key; the row is then addressed by its
// (SourceID, TargetID) pair.
type PivotLink struct {
	ID       any
	SourceID any
	TargetID any
	Extra    map[string]any
}

// Repository is the storage contract the tree writer persists through.
type Repository interface {
	FindByPK(ctx context.Context, entity *metadata.Entity, id any) (map[string]any, error)
	FindByForeignKey(ctx context.Context, entity *metadata.Entity, fk string, value any) ([]map[string]any, error)
	Insert(ctx context.Context, entity *metadata.Entity, fields map[string]any) (any, error)
	Update(ctx context.Context, entity *metadata.Entity, id any, fields map[string]any) error
	Delete(ctx context.Context, entity *metadata.Entity, id any) error

	ListPivotLinks(ctx context.Context, rel *metadata.Relation, parentID any) ([]PivotLink, error)
	InsertPivotLink(ctx context.Context, rel *metadata.Relation, parentID, targetID any, extra map[string]any) (any, error)
	UpdatePivotLink(ctx context.Context, rel *metadata.Relation, link PivotLink, fields map[string]any) error
	DeletePivotLink(ctx context.Context, rel *metadata.Relation, link PivotLink) error
}

// sqlRepository implements Repository over a database handle or transaction.
type sqlRepository struct {
	q       store.Querier
	dialect store.Dialect
	reg     *metadata.Registry
}

// NewRepository returns a Repository bound to q, which is usually a *sql.Tx.
func NewRepository(q store.Querier, dialect store.Dialect, reg *metadata.Registry) Repository {
	return &sqlRepository{q: q, dialect: dialect, reg: reg}
}

func (r *sqlRepository) FindByPK(ctx context.Context, entity *metadata.Entity, id any) (map[string]any, error) {
	sql, params := BuildSelectSQL(r.dialect, entity, entity.PrimaryKey.Field, coerceValue(entity.PrimaryKey.Type, id))
	row, err := store.QueryRow(ctx, r.q, sql, params...)
	if err != nil {
		return nil, err
	}
	r.fixBooleans(entity, []map[string]any{row})
	return row, nil
}

func (r *sqlRepository) FindByForeignKey(ctx context.Context, entity *metadata.Entity, fk string, value any) ([]map[string]any, error) {
	typ := ""
	if f := entity.GetField(fk); f != nil {
		typ = f.Type
	}
	sql, params := BuildSelectSQL(r.dialect, entity, fk, coerceValue(typ, value))
	rows, err := store.QueryRows(ctx, r.q, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("find %s by %s: %w", entity.Name, fk, err)
	}
	r.fixBooleans(entity, rows)
	return rows, nil
}

// Insert writes a new row and returns its primary key. UUID keys marked as
// generated are assigned here when the caller did not supply one.
func (r *sqlRepository) Insert(ctx context.Context, entity *metadata.Entity, fields map[string]any) (any, error) {
	pkField := entity.PrimaryKey.Field
	if entity.AppGeneratedPK() && isEmptyKey(fields[pkField]) {
		withID := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			withID[k] = v
		}
		withID[pkField] = uuid.New().String()
		fields = withID
	}

	sql, params := BuildInsertSQL(r.dialect, entity, fields)
	row, err := store.QueryRow(ctx, r.q, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", entity.Table, r.dialect.MapError(err))
	}
	return row[pkField], nil
}

func (r *sqlRepository) Update(ctx context.Context, entity *metadata.Entity, id any, fields map[string]any) error {
	sql, params := BuildUpdateSQL(r.dialect, entity, id, fields)
	if sql == "" {
		return nil
	}
	n, err := store.Exec(ctx, r.q, sql, params...)
	if err != nil {
		return fmt.Errorf("update %s: %w", entity.Table, r.dialect.MapError(err))
	}
	if n == 0 {
		return fmt.Errorf("update %s %v: %w", entity.Name, id, store.ErrNotFound)
	}
	return nil
}

func (r *sqlRepository) fixBooleans(entity *metadata.Entity, rows []map[string]any) {
	if !r.dialect.NeedsBoolFix() {
		return
	}
	var boolFields []string
	for _, f := range entity.Fields {
		if f.Type == "boolean" {
			boolFields = append(boolFields, f.Name)
		}
	}
	store.NormalizeBooleans(rows, boolFields)
}

func (r *sqlRepository) pivotColumns(rel *metadata.Relation) []string {
	var cols []string
	if rel.JoinPrimaryKey != "" {
		cols = append(cols, rel.JoinPrimaryKey)
	}
	cols = append(cols, rel.SourceJoinKey, rel.TargetJoinKey)
	for _, c := range rel.JoinColumns {
		cols = append(cols, c.Name)
	}
	return cols
}

func (r *sqlRepository) ListPivotLinks(ctx context.Context, rel *metadata.Relation, parentID any) ([]PivotLink, error) {
	pb := r.dialect.NewParamBuilder()
	order := rel.TargetJoinKey
	if rel.JoinPrimaryKey != "" {
		order = rel.JoinPrimaryKey
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		strings.Join(r.pivotColumns(rel), ", "), rel.JoinTable, rel.SourceJoinKey,
		pb.Add(r.sourceKeyValue(rel, parentID)), order)
	rows, err := store.QueryRows(ctx, r.q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list %s links: %w", rel.JoinTable, err)
	}

	links := make([]PivotLink, 0, len(rows))
	for _, row := range rows {
		link := PivotLink{
			SourceID: row[rel.SourceJoinKey],
			TargetID: row[rel.TargetJoinKey],
			Extra:    make(map[string]any, len(rel.JoinColumns)),
		}
		if rel.JoinPrimaryKey != "" {
			link.ID = row[rel.JoinPrimaryKey]
		}
		for _, c := range rel.JoinColumns {
			v := row[c.Name]
			if c.Type == "boolean" && r.dialect.NeedsBoolFix() {
				if n, ok := v.(int64); ok {
					v = n != 0
				}
			}
			link.Extra[c.Name] = v
		}
		links = append(links, link)
	}
	return links, nil
}

func (r *sqlRepository) InsertPivotLink(ctx context.Context, rel *metadata.Relation, parentID, targetID any, extra map[string]any) (any, error) {
	pb := r.dialect.NewParamBuilder()
	cols := []string{rel.SourceJoinKey, rel.TargetJoinKey}
	vals := []string{pb.Add(r.sourceKeyValue(rel, parentID)), pb.Add(r.targetKeyValue(rel, targetID))}
	for _, c := range rel.JoinColumns {
		if v, ok := extra[c.Name]; ok {
			cols = append(cols, c.Name)
			vals = append(vals, pb.Add(coerceValue(c.Type, v)))
		}
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		rel.JoinTable, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if rel.JoinPrimaryKey == "" {
		if _, err := store.Exec(ctx, r.q, sql, pb.Params()...); err != nil {
			return nil, fmt.Errorf("insert %s link: %w", rel.JoinTable, r.dialect.MapError(err))
		}
		return nil, nil
	}

	row, err := store.QueryRow(ctx, r.q, sql+" RETURNING "+rel.JoinPrimaryKey, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("insert %s link: %w", rel.JoinTable, r.dialect.MapError(err))
	}
	return row[rel.JoinPrimaryKey], nil
}

// UpdatePivotLink sets the target key and extra columns present in fields.
// The source key is never changed.
func (r *sqlRepository) UpdatePivotLink(ctx context.Context, rel *metadata.Relation, link PivotLink, fields map[string]any) error {
	pb := r.dialect.NewParamBuilder()
	var sets []string
	if v, ok := fields[rel.TargetJoinKey]; ok {
		sets = append(sets, fmt.Sprintf("%s = %s", rel.TargetJoinKey, pb.Add(r.targetKeyValue(rel, v))))
	}
	for _, c := range rel.JoinColumns {
		if v, ok := fields[c.Name]; ok {
			sets = append(sets, fmt.Sprintf("%s = %s", c.Name, pb.Add(coerceValue(c.Type, v))))
		}
	}
	if len(sets) == 0 {
		return nil
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		rel.JoinTable, strings.Join(sets, ", "), r.linkWhere(rel, link, pb))
	if _, err := store.Exec(ctx, r.q, sql, pb.Params()...); err != nil {
		return fmt.Errorf("update %s link: %w", rel.JoinTable, r.dialect.MapError(err))
	}
	return nil
}

func (r *sqlRepository) DeletePivotLink(ctx context.Context, rel *metadata.Relation, link PivotLink) error {
	pb := r.dialect.NewParamBuilder()
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", rel.JoinTable, r.linkWhere(rel, link, pb))
	n, err := store.Exec(ctx, r.q, sql, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete %s link: %w", rel.JoinTable, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s link: %w", rel.JoinTable, store.ErrNotFound)
	}
	return nil
}

func (r *sqlRepository) linkWhere(rel *metadata.Relation, link PivotLink, pb store.ParamBuilder) string {
	if rel.JoinPrimaryKey != "" && link.ID != nil {
		return fmt.Sprintf("%s = %s", rel.JoinPrimaryKey, pb.Add(link.ID))
	}
	return fmt.Sprintf("%s = %s AND %s = %s",
		rel.SourceJoinKey, pb.Add(link.SourceID),
		rel.TargetJoinKey, pb.Add(r.targetKeyValue(rel, link.TargetID)))
}

func (r *sqlRepository) sourceKeyValue(rel *metadata.Relation, v any) any {
	return coerceValue(keyType(r.reg.GetEntity(rel.Source), rel.SourceKey), v)
}

func (r *sqlRepository) targetKeyValue(rel *metadata.Relation, v any) any {
	target := r.reg.GetEntity(rel.Target)
	if target == nil {
		return v
	}
	return coerceValue(target.PrimaryKey.Type, v)
}

func keyType(entity *metadata.Entity, field string) string {
	if entity == nil {
		return ""
	}
	if field == entity.PrimaryKey.Field {
		return entity.PrimaryKey.Type
	}
	if f := entity.GetField(field); f != nil {
		return f.Type
	}
	return ""
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
