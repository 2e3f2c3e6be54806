package store

import (
	"context"
	"fmt"
	"strings"

	"rocket-nested/internal/metadata"
)

// Bootstrap creates the metadata and event tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	return nil
}

// EnsureTables creates every entity table and pivot table known to the
// registry that does not exist yet. Existing tables are left untouched.
func (s *Store) EnsureTables(ctx context.Context, reg *metadata.Registry) error {
	for _, entity := range reg.AllEntities() {
		if err := s.ensureTable(ctx, entity.Table, s.entityTableSQL(entity), entityIndexSQL(entity)...); err != nil {
			return err
		}
	}
	for _, rel := range reg.AllRelations() {
		if !rel.IsManyToMany() {
			continue
		}
		source := reg.GetEntity(rel.Source)
		target := reg.GetEntity(rel.Target)
		if err := s.ensureTable(ctx, rel.JoinTable, s.joinTableSQL(rel, source, target)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureTable(ctx context.Context, table, ddl string, extra ...string) error {
	exists, err := s.Dialect.TableExists(ctx, s.DB, table)
	if err != nil {
		return fmt.Errorf("check table %s exists: %w", table, err)
	}
	if exists {
		return nil
	}
	if _, err := s.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	for _, stmt := range extra {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index on %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) entityTableSQL(entity *metadata.Entity) string {
	var cols []string
	for i := range entity.Fields {
		cols = append(cols, s.columnDef(entity, &entity.Fields[i]))
	}
	if entity.GetField(entity.PrimaryKey.Field) == nil {
		pk := metadata.Field{Name: entity.PrimaryKey.Field, Type: entity.PrimaryKey.Type}
		cols = append([]string{s.columnDef(entity, &pk)}, cols...)
	}
	if entity.SoftDelete && entity.GetField("deleted_at") == nil {
		cols = append(cols, "deleted_at "+s.Dialect.ColumnType("timestamp"))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", entity.Table, strings.Join(cols, ",\n  "))
}

func (s *Store) columnDef(entity *metadata.Entity, f *metadata.Field) string {
	if f.Name == entity.PrimaryKey.Field {
		pkType := entity.PrimaryKey.Type
		if entity.PrimaryKey.Generated && pkType != "uuid" && pkType != "string" {
			return f.Name + " " + s.Dialect.AutoIncrementPK(pkType)
		}
		return f.Name + " " + s.Dialect.ColumnType(pkType) + " PRIMARY KEY"
	}

	col := f.Name + " " + s.Dialect.ColumnType(f.Type)
	if f.Required && !f.Nullable {
		col += " NOT NULL"
	}
	if f.Default != nil {
		switch v := f.Default.(type) {
		case string:
			col += fmt.Sprintf(" DEFAULT '%s'", strings.ReplaceAll(v, "'", "''"))
		case bool:
			if s.Dialect.NeedsBoolFix() {
				if v {
					col += " DEFAULT 1"
				} else {
					col += " DEFAULT 0"
				}
			} else {
				col += fmt.Sprintf(" DEFAULT %t", v)
			}
		default:
			col += fmt.Sprintf(" DEFAULT %v", v)
		}
	}
	return col
}

func entityIndexSQL(entity *metadata.Entity) []string {
	var stmts []string
	for _, f := range entity.Fields {
		if f.Unique {
			stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
				entity.Table, f.Name, entity.Table, f.Name))
		}
	}
	if entity.SoftDelete {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_deleted_at ON %s (deleted_at) WHERE deleted_at IS NULL",
			entity.Table, entity.Table))
	}
	return stmts
}

// joinTableSQL builds the pivot table DDL. Without a pivot primary key the
// (source, target) pair is the key; with one, the same pair may be linked
// more than once and each link is addressed by its own id.
func (s *Store) joinTableSQL(rel *metadata.Relation, source, target *metadata.Entity) string {
	sourceType := keyColumnType(s.Dialect, source, rel.SourceKey)
	targetType := keyColumnType(s.Dialect, target, target.PrimaryKey.Field)

	var cols []string
	if rel.JoinPrimaryKey != "" {
		cols = append(cols, rel.JoinPrimaryKey+" "+s.Dialect.AutoIncrementPK("bigint"))
	}
	cols = append(cols,
		fmt.Sprintf("%s %s NOT NULL REFERENCES %s(%s) ON DELETE CASCADE", rel.SourceJoinKey, sourceType, source.Table, rel.SourceKey),
		fmt.Sprintf("%s %s NOT NULL REFERENCES %s(%s) ON DELETE CASCADE", rel.TargetJoinKey, targetType, target.Table, target.PrimaryKey.Field),
	)
	for _, c := range rel.JoinColumns {
		cols = append(cols, c.Name+" "+s.Dialect.ColumnType(c.Type))
	}
	if rel.JoinPrimaryKey == "" {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s, %s)", rel.SourceJoinKey, rel.TargetJoinKey))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", rel.JoinTable, strings.Join(cols, ",\n  "))
}

func keyColumnType(d Dialect, entity *metadata.Entity, field string) string {
	if field == entity.PrimaryKey.Field {
		return d.ColumnType(entity.PrimaryKey.Type)
	}
	if f := entity.GetField(field); f != nil {
		return d.ColumnType(f.Type)
	}
	return d.ColumnType("")
}
