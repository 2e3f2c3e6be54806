package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rocket-nested/internal/metadata"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		item any
		want Directive
	}{
		{"plain upsert", map[string]any{"name": "a"}, Directive{Kind: Upsert}},
		{"upsert with key", map[string]any{"id": 3, "name": "a"}, Directive{Kind: Upsert, MatchKey: 3}},
		{"blank key", map[string]any{"id": " "}, Directive{Kind: Upsert}},
		{"delete", map[string]any{"_delete": true, "id": 3}, Directive{Kind: Delete, MatchKey: 3}},
		{"delete string flag", map[string]any{"_delete": "TRUE"}, Directive{Kind: Delete}},
		{"delete zero flag", map[string]any{"_delete": 0, "id": 3}, Directive{Kind: Upsert, MatchKey: 3}},
		{"create drops key", map[string]any{"_create": 1, "id": 3}, Directive{Kind: ForceCreate}},
		{"delete wins", map[string]any{"_create": true, "_delete": true, "id": 3}, Directive{Kind: Delete, MatchKey: 3}},
		{"scalar list", []any{1, 2}, Directive{Kind: SyncSet, IDs: []any{1, 2}}},
		{"typed list", []int{4}, Directive{Kind: SyncSet, IDs: []any{4}}},
		{"single scalar", 7, Directive{Kind: Upsert, MatchKey: 7}},
		{"blank scalar", "", Directive{Kind: Upsert}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.item, "id"))
		})
	}
}

func TestDirectiveKindString(t *testing.T) {
	assert.Equal(t, "upsert", Upsert.String())
	assert.Equal(t, "delete", Delete.String())
	assert.Equal(t, "force_create", ForceCreate.String())
	assert.Equal(t, "sync_set", SyncSet.String())
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{true, 1, int64(2), float64(-1), "1", "true", " True "} {
		assert.True(t, truthy(v), "%#v", v)
	}
	for _, v := range []any{nil, false, 0, float64(0), "", "0", "false", "yes", []any{1}} {
		assert.False(t, truthy(v), "%#v", v)
	}
}

func TestStripDirectives(t *testing.T) {
	item := map[string]any{"_delete": true, "_note": "x", "name": "a", "id": 1}
	out := StripDirectives(item)
	assert.Equal(t, map[string]any{"name": "a", "id": 1}, out)
	assert.Len(t, item, 4)
}

func TestNormalizeInput(t *testing.T) {
	pivot := &metadata.Relation{Name: "cities", Type: "many_to_many", TargetJoinKey: "city_id"}
	owned := &metadata.Relation{Name: "offices", Type: "one_to_many", TargetKey: "region_id"}

	t.Run("nil", func(t *testing.T) {
		in, err := NormalizeInput(nil, pivot)
		require.NoError(t, err)
		assert.Nil(t, in)
	})

	t.Run("keyed sync set", func(t *testing.T) {
		in, err := NormalizeInput(map[string]any{"city_id": []any{5, 9}}, pivot)
		require.NoError(t, err)
		assert.Equal(t, &SyncSetInput{Key: "city_id", IDs: []any{5, 9}}, in)
	})

	t.Run("keyed sync set with pivot columns", func(t *testing.T) {
		withExtras := &metadata.Relation{Name: "cities", Type: "many_to_many", TargetJoinKey: "city_id",
			JoinColumns: []metadata.Field{{Name: "main", Type: "boolean"}}}
		in, err := NormalizeInput(map[string]any{"city_id": []any{5, 9}, "main": true}, withExtras)
		require.NoError(t, err)
		assert.Equal(t, &SyncSetInput{Key: "city_id", IDs: []any{5, 9}, Extra: map[string]any{"main": true}}, in)

		in, err = NormalizeInput(map[string]any{"city_id": []any{5}, "name": "x"}, withExtras)
		require.NoError(t, err)
		assert.IsType(t, &RecordList{}, in)
	})

	t.Run("keyed scalar is a mapping", func(t *testing.T) {
		in, err := NormalizeInput(map[string]any{"city_id": 5}, pivot)
		require.NoError(t, err)
		assert.Equal(t, &RecordList{Items: []map[string]any{{"city_id": 5}}, Single: true}, in)
	})

	t.Run("single mapping", func(t *testing.T) {
		in, err := NormalizeInput(map[string]any{"_delete": true, "city_id": 5}, pivot)
		require.NoError(t, err)
		list := in.(*RecordList)
		assert.True(t, list.Single)
		assert.Len(t, list.Items, 1)
	})

	t.Run("empty list", func(t *testing.T) {
		in, err := NormalizeInput([]any{}, owned)
		require.NoError(t, err)
		sync := in.(*SyncSetInput)
		assert.Empty(t, sync.IDs)
	})

	t.Run("bare ids", func(t *testing.T) {
		in, err := NormalizeInput([]any{float64(5), "9"}, pivot)
		require.NoError(t, err)
		assert.Equal(t, []any{float64(5), "9"}, in.(*SyncSetInput).IDs)
	})

	t.Run("record list", func(t *testing.T) {
		in, err := NormalizeInput([]any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}, owned)
		require.NoError(t, err)
		list := in.(*RecordList)
		assert.False(t, list.Single)
		assert.Len(t, list.Items, 2)
	})

	t.Run("typed record list", func(t *testing.T) {
		in, err := NormalizeInput([]map[string]any{{"name": "a"}}, owned)
		require.NoError(t, err)
		assert.Len(t, in.(*RecordList).Items, 1)
	})

	t.Run("mixed list", func(t *testing.T) {
		_, err := NormalizeInput([]any{map[string]any{"name": "a"}, 3}, owned)
		assert.Error(t, err)
	})

	t.Run("scalar", func(t *testing.T) {
		_, err := NormalizeInput("hq", owned)
		assert.Error(t, err)
	})
}
