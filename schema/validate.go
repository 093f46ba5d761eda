package schema

import (
	"fmt"

	"github.com/timewarden/pluginhost/sdk"
)

// validateChange checks one change against the catalog. It does not mutate
// the catalog; staging happens in applyToCatalog after the whole batch
// validates.
func validateChange(cat *Catalog, change sdk.SchemaChange) error {
	switch change.Op {
	case sdk.OpCreateTable:
		return validateCreateTable(cat, change)
	case sdk.OpAddColumn:
		return validateAddColumn(cat, change)
	case sdk.OpAddIndex:
		return validateAddIndex(cat, change)
	}
	return fmt.Errorf("unknown schema change op %q", string(change.Op))
}

func validateCreateTable(cat *Catalog, change sdk.SchemaChange) error {
	if !validIdent(change.Table) {
		return fmt.Errorf("invalid table name %q", change.Table)
	}
	if len(change.Columns) == 0 {
		return fmt.Errorf("table %s: at least one column is required", change.Table)
	}
	// Re-creating an existing table is permitted: rendering is guarded with
	// IF NOT EXISTS, so the second application is a no-op.
	seen := make(map[string]bool, len(change.Columns))
	pkCount := 0
	for _, col := range change.Columns {
		if err := validateColumn(cat, change.Table, col); err != nil {
			return err
		}
		if seen[col.Name] {
			return fmt.Errorf("table %s: duplicate column %q", change.Table, col.Name)
		}
		seen[col.Name] = true
		if col.PrimaryKey {
			pkCount++
		}
	}
	if pkCount > 1 {
		return fmt.Errorf("table %s: multiple primary key columns", change.Table)
	}
	return nil
}

func validateAddColumn(cat *Catalog, change sdk.SchemaChange) error {
	t, ok := cat.Table(change.Table)
	if !ok {
		return fmt.Errorf("add column: table %q does not exist", change.Table)
	}
	if change.Column == nil {
		return fmt.Errorf("add column on %s: column is required", change.Table)
	}
	col := *change.Column
	if err := validateColumn(cat, change.Table, col); err != nil {
		return err
	}
	if t.hasColumn(col.Name) {
		return fmt.Errorf("table %s: column %q already exists", change.Table, col.Name)
	}
	if col.PrimaryKey {
		return fmt.Errorf("table %s: cannot add primary key column %q to an existing table", change.Table, col.Name)
	}
	// ALTER TABLE ADD COLUMN cannot backfill a NOT NULL column on existing rows.
	if !col.Nullable && col.Default == "" {
		return fmt.Errorf("table %s: added column %q must be nullable or carry a default", change.Table, col.Name)
	}
	return nil
}

func validateAddIndex(cat *Catalog, change sdk.SchemaChange) error {
	t, ok := cat.Table(change.Table)
	if !ok {
		return fmt.Errorf("add index: table %q does not exist", change.Table)
	}
	if !validIdent(change.Index) {
		return fmt.Errorf("invalid index name %q", change.Index)
	}
	if len(change.IndexColumns) == 0 {
		return fmt.Errorf("index %s: at least one column is required", change.Index)
	}
	for _, col := range change.IndexColumns {
		if !t.hasColumn(col) {
			return fmt.Errorf("index %s: column %q does not exist on table %s", change.Index, col, change.Table)
		}
	}
	return nil
}

func validateColumn(cat *Catalog, table string, col sdk.TableColumn) error {
	if !validIdent(col.Name) {
		return fmt.Errorf("table %s: invalid column name %q", table, col.Name)
	}
	if !validColumnType(col.Type) {
		return fmt.Errorf("table %s: column %q has invalid type %q", table, col.Name, col.Type)
	}
	if fk := col.ForeignKey; fk != nil {
		ref, ok := cat.Table(fk.Table)
		if !ok {
			return fmt.Errorf("table %s: column %q references missing table %q", table, col.Name, fk.Table)
		}
		if !ref.hasColumn(fk.Column) {
			return fmt.Errorf("table %s: column %q references missing column %s.%s", table, col.Name, fk.Table, fk.Column)
		}
	}
	return nil
}

// applyToCatalog stages a validated change into the catalog. Caller must
// have validated first.
func applyToCatalog(cat *Catalog, change sdk.SchemaChange) {
	switch change.Op {
	case sdk.OpCreateTable:
		if _, exists := cat.tables[change.Table]; exists {
			return // no-op, table already present
		}
		t := &Table{Name: change.Table}
		t.Columns = append(t.Columns, change.Columns...)
		cat.tables[change.Table] = t
	case sdk.OpAddColumn:
		t, ok := cat.tables[change.Table]
		if !ok || change.Column == nil || t.hasColumn(change.Column.Name) {
			return
		}
		t.Columns = append(t.Columns, *change.Column)
	case sdk.OpAddIndex:
		t, ok := cat.tables[change.Table]
		if !ok {
			return
		}
		for _, idx := range t.Indexes {
			if idx == change.Index {
				return
			}
		}
		t.Indexes = append(t.Indexes, change.Index)
	}
}
