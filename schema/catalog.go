// Package schema validates and applies plugin schema extensions against the
// host's persistent schema. Every change is validated against a catalog of
// the current tables before anything touches the database, and each
// registration call is all-or-nothing. Rendered SQL is idempotent — guarded
// with existence checks so applying a change twice is a no-op.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/timewarden/pluginhost/sdk"
)

// Table is one table known to the catalog: its ordered columns plus the
// indexes defined on it.
type Table struct {
	Name    string
	Columns []sdk.TableColumn
	Indexes []string
}

func (t *Table) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (t *Table) clone() *Table {
	cp := &Table{Name: t.Name}
	cp.Columns = append(cp.Columns, t.Columns...)
	cp.Indexes = append(cp.Indexes, t.Indexes...)
	return cp
}

// Catalog is the set of tables currently known to the host, core and
// plugin-created alike. It is the ground truth registration-time validation
// checks against.
type Catalog struct {
	tables map[string]*Table
}

// NewCatalog returns a catalog preloaded with the host's core tables.
func NewCatalog() *Catalog {
	c := &Catalog{tables: make(map[string]*Table)}
	for _, t := range coreTables() {
		c.tables[t.Name] = t
	}
	return c
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// TableNames returns the names of all known tables.
func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

func (c *Catalog) clone() *Catalog {
	cp := &Catalog{tables: make(map[string]*Table, len(c.tables))}
	for name, t := range c.tables {
		cp.tables[name] = t.clone()
	}
	return cp
}

// EntityTable maps an entity type to its core table name.
func EntityTable(e sdk.EntityType) (string, bool) {
	switch e {
	case sdk.EntityActivity:
		return "activities", true
	case sdk.EntityManualEntry:
		return "manual_entries", true
	case sdk.EntityCategory:
		return "categories", true
	case sdk.EntityTag:
		return "tags", true
	case sdk.EntityProject:
		return "projects", true
	}
	return "", false
}

// coreTables describes what a fresh host database contains. Column lists
// mirror the host's own migrations.
func coreTables() []*Table {
	return []*Table{
		{
			Name: "activities",
			Columns: []sdk.TableColumn{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "app_name", Type: "TEXT"},
				{Name: "window_title", Type: "TEXT", Nullable: true},
				{Name: "started_at", Type: "TIMESTAMP"},
				{Name: "duration_ms", Type: "INTEGER"},
				{Name: "category_id", Type: "INTEGER", Nullable: true, ForeignKey: &sdk.ForeignKey{Table: "categories", Column: "id"}},
			},
		},
		{
			Name: "manual_entries",
			Columns: []sdk.TableColumn{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "description", Type: "TEXT"},
				{Name: "started_at", Type: "TIMESTAMP"},
				{Name: "ended_at", Type: "TIMESTAMP"},
				{Name: "category_id", Type: "INTEGER", Nullable: true, ForeignKey: &sdk.ForeignKey{Table: "categories", Column: "id"}},
			},
		},
		{
			Name: "categories",
			Columns: []sdk.TableColumn{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "name", Type: "TEXT"},
				{Name: "color", Type: "TEXT", Nullable: true},
			},
		},
		{
			Name: "tags",
			Columns: []sdk.TableColumn{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "name", Type: "TEXT"},
			},
		},
		{
			Name: "projects",
			Columns: []sdk.TableColumn{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "name", Type: "TEXT"},
				{Name: "archived", Type: "BOOLEAN", Default: "0"},
			},
		},
	}
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdent(s string) bool {
	return identRe.MatchString(s)
}

// columnTypes is the closed set of declared column types accepted from
// plugins. Keys are upper-case.
var columnTypes = map[string]bool{
	"TEXT":      true,
	"INTEGER":   true,
	"REAL":      true,
	"BLOB":      true,
	"BOOLEAN":   true,
	"TIMESTAMP": true,
}

func validColumnType(t string) bool {
	return columnTypes[strings.ToUpper(t)]
}

// CoreSQL returns idempotent DDL creating every core table, for bootstrapping
// an empty host database.
func CoreSQL() string {
	var b strings.Builder
	for _, t := range coreTables() {
		b.WriteString(renderCreateTable(t.Name, t.Columns))
		b.WriteString("\n")
	}
	return b.String()
}

func quoteDefault(c sdk.TableColumn) string {
	return fmt.Sprintf(" DEFAULT %s", c.Default)
}
