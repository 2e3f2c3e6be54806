package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"rocket-nested/internal/metadata"
	"rocket-nested/internal/store"
)

// selectColumns lists the columns read back for an entity: its fields, the
// primary key when it is not declared as a field, and deleted_at for
// soft-deletable entities.
func selectColumns(entity *metadata.Entity) []string {
	var cols []string
	if !entity.HasField(entity.PrimaryKey.Field) {
		cols = append(cols, entity.PrimaryKey.Field)
	}
	cols = append(cols, entity.FieldNames()...)
	if entity.SoftDelete && !entity.HasField("deleted_at") {
		cols = append(cols, "deleted_at")
	}
	return cols
}

// BuildSelectSQL builds a SELECT of live rows where column = value.
func BuildSelectSQL(d store.Dialect, entity *metadata.Entity, column string, value any) (string, []any) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(selectColumns(entity), ", "), entity.Table, column, pb.Add(value))
	if entity.SoftDelete {
		sql += " AND deleted_at IS NULL"
	}
	sql += " ORDER BY " + entity.PrimaryKey.Field
	return sql, pb.Params()
}

// BuildInsertSQL builds an INSERT returning the primary key. Auto fields are
// set to the database clock; other fields are taken from fields when present.
func BuildInsertSQL(d store.Dialect, entity *metadata.Entity, fields map[string]any) (string, []any) {
	pb := d.NewParamBuilder()
	var cols, vals []string

	pk := entity.PrimaryKey
	if v, ok := fields[pk.Field]; ok && !entity.HasField(pk.Field) && v != nil {
		cols = append(cols, pk.Field)
		vals = append(vals, pb.Add(coerceValue(pk.Type, v)))
	}
	for _, f := range entity.Fields {
		if f.IsAuto() {
			cols = append(cols, f.Name)
			vals = append(vals, d.NowExpr())
			continue
		}
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		if f.Name == pk.Field && v == nil {
			continue
		}
		cols = append(cols, f.Name)
		vals = append(vals, pb.Add(coerceValue(fieldType(entity, f), v)))
	}

	var sql string
	if len(cols) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", entity.Table)
	} else {
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			entity.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	}
	return sql + " RETURNING " + pk.Field, pb.Params()
}

// BuildUpdateSQL builds an UPDATE by primary key. It returns "" when fields
// carries nothing updatable.
func BuildUpdateSQL(d store.Dialect, entity *metadata.Entity, id any, fields map[string]any) (string, []any) {
	pb := d.NewParamBuilder()
	var sets []string
	for _, f := range entity.UpdatableFields() {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", f.Name, pb.Add(coerceValue(f.Type, v))))
	}
	if len(sets) == 0 {
		return "", nil
	}
	for _, f := range entity.Fields {
		if f.Auto == "update" {
			sets = append(sets, fmt.Sprintf("%s = %s", f.Name, d.NowExpr()))
		}
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		entity.Table, strings.Join(sets, ", "), entity.PrimaryKey.Field, pb.Add(coerceValue(entity.PrimaryKey.Type, id)))
	if entity.SoftDelete {
		sql += " AND deleted_at IS NULL"
	}
	return sql, pb.Params()
}

func BuildSoftDeleteSQL(d store.Dialect, entity *metadata.Entity, id any) (string, []any) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s = %s AND deleted_at IS NULL",
		entity.Table, d.NowExpr(), entity.PrimaryKey.Field, pb.Add(coerceValue(entity.PrimaryKey.Type, id)))
	return sql, pb.Params()
}

func BuildHardDeleteSQL(d store.Dialect, entity *metadata.Entity, id any) (string, []any) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		entity.Table, entity.PrimaryKey.Field, pb.Add(coerceValue(entity.PrimaryKey.Type, id)))
	return sql, pb.Params()
}

func fieldType(entity *metadata.Entity, f metadata.Field) string {
	if f.Name == entity.PrimaryKey.Field && entity.PrimaryKey.Type != "" {
		return entity.PrimaryKey.Type
	}
	return f.Type
}

// coerceValue converts decoded JSON/YAML values to what the column expects:
// integral floats become int64 for integer columns, times are written as
// RFC 3339 strings and structured values as JSON text.
func coerceValue(typ string, v any) any {
	switch typ {
	case "int", "integer", "bigint":
		switch n := v.(type) {
		case float64:
			if n == math.Trunc(n) {
				return int64(n)
			}
		case float32:
			if float64(n) == math.Trunc(float64(n)) {
				return int64(n)
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i
			}
		case int:
			return int64(n)
		case int32:
			return int64(n)
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
		}
	case "decimal", "float":
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
	}

	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return v
		}
		return string(b)
	}
	return v
}
