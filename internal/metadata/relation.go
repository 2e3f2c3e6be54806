package metadata

const (
	OneToOne   = "one_to_one"
	OneToMany  = "one_to_many"
	ManyToMany = "many_to_many"
)

// Relation describes a relation field declared on the Source entity.
// Name is the key under which nested data for the relation appears in input.
type Relation struct {
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"` // one_to_one, one_to_many, many_to_many
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	SourceKey string `json:"source_key,omitempty" yaml:"source_key,omitempty"`
	TargetKey string `json:"target_key,omitempty" yaml:"target_key,omitempty"`

	// Pivot table (many_to_many only).
	JoinTable      string  `json:"join_table,omitempty" yaml:"join_table,omitempty"`
	SourceJoinKey  string  `json:"source_join_key,omitempty" yaml:"source_join_key,omitempty"`
	TargetJoinKey  string  `json:"target_join_key,omitempty" yaml:"target_join_key,omitempty"`
	JoinPrimaryKey string  `json:"join_primary_key,omitempty" yaml:"join_primary_key,omitempty"`
	JoinColumns    []Field `json:"join_columns,omitempty" yaml:"join_columns,omitempty"`

	WriteMode string `json:"write_mode,omitempty" yaml:"write_mode,omitempty"` // diff (default), replace, append
}

func (r *Relation) IsManyToMany() bool {
	return r.Type == ManyToMany
}

func (r *Relation) IsOneToOne() bool {
	return r.Type == OneToOne
}

// DefaultWriteMode returns the write mode, defaulting to "diff".
func (r *Relation) DefaultWriteMode() string {
	if r.WriteMode != "" {
		return r.WriteMode
	}
	return "diff"
}

// IsJoinColumn reports whether name is one of the pivot extra columns.
func (r *Relation) IsJoinColumn(name string) bool {
	for _, c := range r.JoinColumns {
		if c.Name == name {
			return true
		}
	}
	return false
}
