package sdk

import "fmt"

// PluginInfo is a plugin's static identity. It is immutable after load.
type PluginInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// EntityType enumerates the host domain entities a plugin may extend.
type EntityType string

const (
	EntityActivity    EntityType = "activity"
	EntityManualEntry EntityType = "manual_entry"
	EntityCategory    EntityType = "category"
	EntityTag         EntityType = "tag"
	EntityProject     EntityType = "project"
)

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	switch e {
	case EntityActivity, EntityManualEntry, EntityCategory, EntityTag, EntityProject:
		return true
	}
	return false
}

// ChangeOp identifies the kind of schema change.
type ChangeOp string

const (
	OpCreateTable ChangeOp = "create_table"
	OpAddColumn   ChangeOp = "add_column"
	OpAddIndex    ChangeOp = "add_index"
)

// ForeignKey references a column in another table.
type ForeignKey struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

// TableColumn describes one column of a created or extended table.
type TableColumn struct {
	Name       string      `json:"name" yaml:"name"`
	Type       string      `json:"type" yaml:"type"`
	PrimaryKey bool        `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Nullable   bool        `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Default    string      `json:"default,omitempty" yaml:"default,omitempty"`
	ForeignKey *ForeignKey `json:"foreign_key,omitempty" yaml:"foreign_key,omitempty"`
}

// SchemaChange is one mutation to the host's persistent schema. Exactly one
// shape is populated depending on Op:
//
//   - OpCreateTable: Table + Columns
//   - OpAddColumn:   Table + Column
//   - OpAddIndex:    Table + Index + IndexColumns
type SchemaChange struct {
	Op           ChangeOp      `json:"op" yaml:"op"`
	Table        string        `json:"table" yaml:"table"`
	Columns      []TableColumn `json:"columns,omitempty" yaml:"columns,omitempty"`
	Column       *TableColumn  `json:"column,omitempty" yaml:"column,omitempty"`
	Index        string        `json:"index,omitempty" yaml:"index,omitempty"`
	IndexColumns []string      `json:"index_columns,omitempty" yaml:"index_columns,omitempty"`
}

// String returns a short human-readable description, used in errors and logs.
func (c SchemaChange) String() string {
	switch c.Op {
	case OpCreateTable:
		return fmt.Sprintf("create table %s", c.Table)
	case OpAddColumn:
		name := "?"
		if c.Column != nil {
			name = c.Column.Name
		}
		return fmt.Sprintf("add column %s.%s", c.Table, name)
	case OpAddIndex:
		return fmt.Sprintf("add index %s on %s", c.Index, c.Table)
	}
	return fmt.Sprintf("unknown op %q", string(c.Op))
}

// SchemaExtension groups the schema changes a plugin declares for one entity.
type SchemaExtension struct {
	Entity  EntityType     `json:"entity" yaml:"entity"`
	Changes []SchemaChange `json:"changes" yaml:"changes"`
}

// ModelField describes an in-memory field the host's domain model gains when
// the extension is active.
type ModelField struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// FilterFunc is a query predicate over one row. Returning false excludes the
// row from the result set.
type FilterFunc func(row map[string]any) (bool, error)

// QueryFilter is a named predicate hook registered with the host query layer.
type QueryFilter struct {
	Name   string
	Filter FilterFunc
}

// Migration is one versioned SQL script. Versions are unique per plugin and
// applied in ascending order exactly once.
type Migration struct {
	Version int
	Name    string
	SQL     string
}
