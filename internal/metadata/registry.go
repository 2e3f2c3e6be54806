package metadata

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrReservedName is returned by Load when an entity field or pivot column
// uses the "_" prefix reserved for write directives.
var ErrReservedName = errors.New("name uses reserved directive prefix")

// ReservedPrefix marks keys interpreted as directives in nested input.
const ReservedPrefix = "_"

type Registry struct {
	mu                sync.RWMutex
	entities          map[string]*Entity
	relationsBySource map[string]map[string]*Relation // source entity -> field name -> relation
	rulesByEntity     map[string][]*Rule
}

func NewRegistry() *Registry {
	return &Registry{
		entities:          make(map[string]*Entity),
		relationsBySource: make(map[string]map[string]*Relation),
		rulesByEntity:     make(map[string][]*Rule),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities sorted by name.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities
}

// ResolveRelation reports whether field is a relation declared on entityName.
// A plain attribute (or unknown key) yields (nil, false).
func (r *Registry) ResolveRelation(entityName, field string) (*Relation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relationsBySource[entityName][field]
	return rel, ok
}

// RelationsForSource returns all relations declared on the given entity, sorted by name.
func (r *Registry) RelationsForSource(entityName string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName := r.relationsBySource[entityName]
	relations := make([]*Relation, 0, len(byName))
	for _, rel := range byName {
		relations = append(relations, rel)
	}
	sort.Slice(relations, func(i, j int) bool { return relations[i].Name < relations[j].Name })
	return relations
}

// AllRelations returns all registered relations.
func (r *Registry) AllRelations() []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var relations []*Relation
	for _, byName := range r.relationsBySource {
		for _, rel := range byName {
			relations = append(relations, rel)
		}
	}
	sort.Slice(relations, func(i, j int) bool {
		if relations[i].Source != relations[j].Source {
			return relations[i].Source < relations[j].Source
		}
		return relations[i].Name < relations[j].Name
	})
	return relations
}

// GetRulesForEntity returns active rules for an entity and hook, sorted by priority.
func (r *Registry) GetRulesForEntity(entityName, hook string) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*Rule
	for _, rule := range r.rulesByEntity[entityName] {
		if rule.Active && rule.Hook == hook {
			result = append(result, rule)
		}
	}
	return result
}

// Load replaces all entities and relations in the registry.
// Relation key defaults are filled in; the registry is left untouched on error.
func (r *Registry) Load(entities []*Entity, relations []*Relation) error {
	byName := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		if err := checkEntity(e); err != nil {
			return err
		}
		byName[e.Name] = e
	}

	bySource := make(map[string]map[string]*Relation)
	for _, rel := range relations {
		if err := normalizeRelation(rel, byName); err != nil {
			return err
		}
		if bySource[rel.Source] == nil {
			bySource[rel.Source] = make(map[string]*Relation)
		}
		if _, dup := bySource[rel.Source][rel.Name]; dup {
			return fmt.Errorf("relation %s.%s declared twice", rel.Source, rel.Name)
		}
		if byName[rel.Source].HasField(rel.Name) {
			return fmt.Errorf("relation %s.%s shadows a field", rel.Source, rel.Name)
		}
		bySource[rel.Source][rel.Name] = rel
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = byName
	r.relationsBySource = bySource
	return nil
}

// LoadRules replaces all rules in the registry, sorted by priority.
func (r *Registry) LoadRules(rules []*Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rulesByEntity = make(map[string][]*Rule)
	for _, rule := range rules {
		r.rulesByEntity[rule.Entity] = append(r.rulesByEntity[rule.Entity], rule)
	}
	for _, entityRules := range r.rulesByEntity {
		sort.SliceStable(entityRules, func(i, j int) bool {
			return entityRules[i].Priority < entityRules[j].Priority
		})
	}
}

func checkEntity(e *Entity) error {
	if e.Name == "" || e.Table == "" {
		return fmt.Errorf("entity %q: name and table are required", e.Name)
	}
	if e.PrimaryKey.Field == "" {
		return fmt.Errorf("entity %s: primary key field is required", e.Name)
	}
	for _, f := range e.Fields {
		if strings.HasPrefix(f.Name, ReservedPrefix) {
			return fmt.Errorf("entity %s field %s: %w", e.Name, f.Name, ErrReservedName)
		}
	}
	return nil
}

func normalizeRelation(rel *Relation, entities map[string]*Entity) error {
	source, ok := entities[rel.Source]
	if !ok {
		return fmt.Errorf("relation %s: unknown source entity %s", rel.Name, rel.Source)
	}
	if _, ok := entities[rel.Target]; !ok {
		return fmt.Errorf("relation %s: unknown target entity %s", rel.Name, rel.Target)
	}
	if strings.HasPrefix(rel.Name, ReservedPrefix) {
		return fmt.Errorf("relation %s.%s: %w", rel.Source, rel.Name, ErrReservedName)
	}
	if rel.SourceKey == "" {
		rel.SourceKey = source.PrimaryKey.Field
	}

	switch rel.Type {
	case OneToMany, OneToOne:
		if rel.TargetKey == "" {
			return fmt.Errorf("relation %s.%s: target_key is required", rel.Source, rel.Name)
		}
		if !entities[rel.Target].HasField(rel.TargetKey) {
			return fmt.Errorf("relation %s.%s: target_key %s is not a field of %s", rel.Source, rel.Name, rel.TargetKey, rel.Target)
		}
	case ManyToMany:
		if rel.JoinTable == "" || rel.SourceJoinKey == "" || rel.TargetJoinKey == "" {
			return fmt.Errorf("relation %s.%s: join_table, source_join_key and target_join_key are required", rel.Source, rel.Name)
		}
		for _, c := range rel.JoinColumns {
			if strings.HasPrefix(c.Name, ReservedPrefix) {
				return fmt.Errorf("relation %s.%s join column %s: %w", rel.Source, rel.Name, c.Name, ErrReservedName)
			}
		}
	default:
		return fmt.Errorf("relation %s.%s: unsupported type %q", rel.Source, rel.Name, rel.Type)
	}

	switch rel.DefaultWriteMode() {
	case "diff", "replace", "append":
	default:
		return fmt.Errorf("relation %s.%s: unsupported write mode %q", rel.Source, rel.Name, rel.WriteMode)
	}
	return nil
}
