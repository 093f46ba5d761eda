package schema

import (
	"fmt"
	"strings"

	"github.com/timewarden/pluginhost/sdk"
)

// Render turns a validated change into SQL. CreateTable and AddIndex are
// guarded with IF NOT EXISTS so re-execution is a no-op; AddColumn has no
// such guard in SQLite, so the registry's existence checks keep it from
// being rendered twice.
func Render(change sdk.SchemaChange) (string, error) {
	switch change.Op {
	case sdk.OpCreateTable:
		return renderCreateTable(change.Table, change.Columns), nil
	case sdk.OpAddColumn:
		if change.Column == nil {
			return "", fmt.Errorf("add column on %s: column is required", change.Table)
		}
		return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", change.Table, renderColumn(*change.Column)), nil
	case sdk.OpAddIndex:
		return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
			change.Index, change.Table, strings.Join(change.IndexColumns, ", ")), nil
	}
	return "", fmt.Errorf("unknown schema change op %q", string(change.Op))
}

func renderCreateTable(name string, columns []sdk.TableColumn) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, "\t"+renderColumn(col))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", name, strings.Join(parts, ",\n"))
}

func renderColumn(col sdk.TableColumn) string {
	var b strings.Builder
	b.WriteString(col.Name)
	b.WriteString(" ")
	b.WriteString(strings.ToUpper(col.Type))
	if col.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if !col.Nullable && !col.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if col.Default != "" {
		b.WriteString(quoteDefault(col))
	}
	if fk := col.ForeignKey; fk != nil {
		b.WriteString(fmt.Sprintf(" REFERENCES %s(%s)", fk.Table, fk.Column))
	}
	return b.String()
}
