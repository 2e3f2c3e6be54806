package engine

import (
	"context"
	"fmt"
	"strings"

	"rocket-nested/internal/metadata"
)

// LoadIncludes attaches the named relations of a stored row to it. Owned
// relations become a list of child rows (a single row for one_to_one);
// many_to_many relations become the linked target rows, each carrying its
// pivot row under "pivot".
func LoadIncludes(ctx context.Context, repo Repository, reg *metadata.Registry, entity *metadata.Entity, row map[string]any, includes []string) error {
	for _, name := range includes {
		rel, ok := reg.ResolveRelation(entity.Name, name)
		if !ok {
			return &AppError{
				Code:    "UNKNOWN_FIELD",
				Status:  400,
				Message: fmt.Sprintf("Unknown include: %s", name),
			}
		}
		target := reg.GetEntity(rel.Target)
		parentKey := row[rel.SourceKey]

		if rel.IsManyToMany() {
			linked, err := loadLinked(ctx, repo, rel, target, parentKey)
			if err != nil {
				return fmt.Errorf("load include %s: %w", name, err)
			}
			row[name] = linked
			continue
		}

		children, err := repo.FindByForeignKey(ctx, target, rel.TargetKey, parentKey)
		if err != nil {
			return fmt.Errorf("load include %s: %w", name, err)
		}
		if rel.IsOneToOne() {
			if len(children) > 0 {
				row[name] = children[0]
			} else {
				row[name] = nil
			}
			continue
		}
		if children == nil {
			children = []map[string]any{}
		}
		row[name] = children
	}
	return nil
}

func loadLinked(ctx context.Context, repo Repository, rel *metadata.Relation, target *metadata.Entity, parentKey any) ([]map[string]any, error) {
	links, err := repo.ListPivotLinks(ctx, rel, parentKey)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(links))
	for _, link := range links {
		row, err := repo.FindByPK(ctx, target, link.TargetID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		pivot := map[string]any{rel.TargetJoinKey: link.TargetID}
		if rel.JoinPrimaryKey != "" {
			pivot[rel.JoinPrimaryKey] = link.ID
		}
		for k, v := range link.Extra {
			pivot[k] = v
		}
		row["pivot"] = pivot
		out = append(out, row)
	}
	return out, nil
}

// ParseIncludes splits a comma-separated include list.
func ParseIncludes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
