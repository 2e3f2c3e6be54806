package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"rocket-nested/internal/config"
	"rocket-nested/internal/metadata"
	"rocket-nested/internal/store"
)

const testSchema = `
entities:
  - name: region
    table: regions
    primary_key: {field: id, type: int, generated: true}
    fields:
      - {name: id, type: int}
      - {name: name, type: string, required: true}
  - name: city
    table: cities
    primary_key: {field: id, type: int, generated: true}
    fields:
      - {name: id, type: int}
      - {name: name, type: string, required: true}
      - {name: population, type: int}
  - name: office
    table: offices
    primary_key: {field: id, type: int, generated: true}
    fields:
      - {name: id, type: int}
      - {name: region_id, type: int, required: true}
      - {name: name, type: string, required: true}
      - {name: code, type: string}
  - name: post
    table: posts
    primary_key: {field: id, type: int, generated: true}
    fields:
      - {name: id, type: int}
      - {name: title, type: string, required: true}
      - {name: status, type: string, enum: [draft, published], default: draft}
  - name: user
    table: users
    primary_key: {field: id, type: int, generated: true}
    fields:
      - {name: id, type: int}
      - {name: name, type: string, required: true}
      - {name: email, type: string, unique: true}
  - name: tag
    table: tags
    primary_key: {field: id, type: uuid, generated: true}
    fields:
      - {name: id, type: uuid}
      - {name: label, type: string, required: true}
  - name: comment
    table: comments
    primary_key: {field: id, type: int, generated: true}
    soft_delete: true
    fields:
      - {name: id, type: int}
      - {name: post_id, type: int, required: true}
      - {name: body, type: string, required: true}
  - name: charter
    table: charters
    primary_key: {field: id, type: int, generated: true}
    fields:
      - {name: id, type: int}
      - {name: region_id, type: int, required: true}
      - {name: body, type: string, required: true}
relations:
  - name: charter
    type: one_to_one
    source: region
    target: charter
    target_key: region_id
  - name: cities
    type: many_to_many
    source: region
    target: city
    join_table: region_cities
    source_join_key: region_id
    target_join_key: city_id
    join_primary_key: id
    join_columns:
      - {name: main, type: boolean}
      - {name: position, type: int}
  - name: offices
    type: one_to_many
    source: region
    target: office
    target_key: region_id
  - name: authors
    type: many_to_many
    source: post
    target: user
    join_table: post_authors
    source_join_key: post_id
    target_join_key: user_id
  - name: tags
    type: many_to_many
    source: post
    target: tag
    join_table: post_tags
    source_join_key: post_id
    target_join_key: tag_id
    write_mode: replace
  - name: comments
    type: one_to_many
    source: post
    target: comment
    target_key: post_id
rules:
  - id: city-name-length
    entity: city
    type: field
    definition: {field: name, operator: max_length, value: 40, message: City name is too long}
  - id: office-reserved-name
    entity: office
    type: expression
    definition: {field: name, expression: 'record.name == "forbidden"', message: Office name is reserved}
  - id: office-code
    entity: office
    type: computed
    definition: {field: code, expression: 'record.name != nil ? upper(record.name) : old.code'}
`

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Store
	reg    *metadata.Registry
	writer *Writer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"}, nil)
}

// newFixtureWith opens cfg, runs prepare (if any) and creates the test schema.
func newFixtureWith(t *testing.T, cfg config.DatabaseConfig, prepare func(*store.Store, *metadata.Registry)) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	reg := metadata.NewRegistry()
	require.NoError(t, metadata.LoadYAML([]byte(testSchema), reg))
	if prepare != nil {
		prepare(s, reg)
	}
	require.NoError(t, s.Bootstrap(ctx))
	require.NoError(t, s.EnsureTables(ctx, reg))

	return &fixture{t: t, ctx: ctx, store: s, reg: reg, writer: NewWriter(s, reg)}
}

// seed inserts a record with an explicit primary key.
func (f *fixture) seed(entity string, fields map[string]any) *Record {
	f.t.Helper()
	rec := NewRecord(entity)
	require.NoError(f.t, f.writer.SaveAll(f.ctx, rec, fields))
	return rec
}

func (f *fixture) count(table string) int64 {
	f.t.Helper()
	row, err := store.QueryRow(f.ctx, f.store.DB, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", table))
	require.NoError(f.t, err)
	return row["n"].(int64)
}

func (f *fixture) rows(query string, args ...any) []map[string]any {
	f.t.Helper()
	rows, err := store.QueryRows(f.ctx, f.store.DB, query, args...)
	require.NoError(f.t, err)
	return rows
}

// linkedTargets returns the target ids of a parent's pivot rows.
func (f *fixture) linkedTargets(table, sourceCol, targetCol string, parentID any) []any {
	f.t.Helper()
	var ids []any
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		targetCol, table, sourceCol, f.store.Dialect.Placeholder(1), targetCol)
	for _, r := range f.rows(q, parentID) {
		ids = append(ids, r[targetCol])
	}
	return ids
}
