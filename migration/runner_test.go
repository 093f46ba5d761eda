package migration

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/timewarden/pluginhost/sdk"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRunner(t *testing.T) (*Runner, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return NewRunner(store, NewMutexLock(), nil), db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRunAppliesAscendingRegardlessOfInputOrder(t *testing.T) {
	r, db := newTestRunner(t)
	ctx := context.Background()

	// Deliberately out of order; v2 depends on the table v1 creates.
	migs := []sdk.Migration{
		{Version: 2, Name: "seed", SQL: `INSERT INTO widgets (name) VALUES ('a')`},
		{Version: 1, Name: "initial", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`},
	}
	if err := r.Run(ctx, db, "widgeter", migs); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := countRows(t, db, "widgets"); got != 1 {
		t.Errorf("expected 1 seeded row, got %d", got)
	}

	applied, err := r.Status(ctx, "widgeter")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	versions := applied["widgeter"]
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
		t.Errorf("unexpected applied records: %+v", versions)
	}
}

func TestRunIsExactlyOnce(t *testing.T) {
	r, db := newTestRunner(t)
	ctx := context.Background()

	migs := []sdk.Migration{
		{Version: 1, Name: "initial", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`},
		{Version: 2, Name: "seed", SQL: `INSERT INTO widgets DEFAULT VALUES`},
	}
	for i := 0; i < 3; i++ {
		if err := r.Run(ctx, db, "widgeter", migs); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}
	if got := countRows(t, db, "widgets"); got != 1 {
		t.Errorf("seed ran %d times, want exactly once", got)
	}
}

func TestRunStopsAtFailure(t *testing.T) {
	r, db := newTestRunner(t)
	ctx := context.Background()

	migs := []sdk.Migration{
		{Version: 1, Name: "initial", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`},
		{Version: 2, Name: "broken", SQL: `THIS IS NOT SQL`},
		{Version: 3, Name: "never", SQL: `CREATE TABLE unreachable (id INTEGER)`},
	}
	if err := r.Run(ctx, db, "widgeter", migs); err == nil {
		t.Fatal("expected failure on broken migration")
	}

	// v1 stays applied; v2 and v3 remain pending.
	pending, err := r.Pending(ctx, "widgeter", migs)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Version != 2 || pending[1].Version != 3 {
		t.Errorf("unexpected pending set: %+v", pending)
	}
	if _, err := db.Exec(`SELECT * FROM unreachable`); err == nil {
		t.Error("migration after the failure should not have run")
	}
}

func TestRunRejectsBadVersions(t *testing.T) {
	r, db := newTestRunner(t)
	ctx := context.Background()

	if err := r.Run(ctx, db, "p", []sdk.Migration{
		{Version: 1, Name: "a", SQL: `SELECT 1`},
		{Version: 1, Name: "b", SQL: `SELECT 1`},
	}); err == nil {
		t.Error("expected duplicate version error")
	}
	if err := r.Run(ctx, db, "p", []sdk.Migration{
		{Version: 0, Name: "zero", SQL: `SELECT 1`},
	}); err == nil {
		t.Error("expected non-positive version error")
	}
}

func TestPendingSkipsApplied(t *testing.T) {
	r, db := newTestRunner(t)
	ctx := context.Background()

	v1 := sdk.Migration{Version: 1, Name: "initial", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`}
	if err := r.Run(ctx, db, "widgeter", []sdk.Migration{v1}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	v2 := sdk.Migration{Version: 2, Name: "next", SQL: `ALTER TABLE widgets ADD COLUMN name TEXT`}
	pending, err := r.Pending(ctx, "widgeter", []sdk.Migration{v1, v2})
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Errorf("unexpected pending set: %+v", pending)
	}
}

func TestMigrationsAreScopedPerPlugin(t *testing.T) {
	r, db := newTestRunner(t)
	ctx := context.Background()

	if err := r.Run(ctx, db, "alpha", []sdk.Migration{
		{Version: 1, Name: "alpha_table", SQL: `CREATE TABLE alpha_data (id INTEGER PRIMARY KEY)`},
	}); err != nil {
		t.Fatalf("Run alpha: %v", err)
	}

	// Same version number under a different plugin still applies.
	if err := r.Run(ctx, db, "beta", []sdk.Migration{
		{Version: 1, Name: "beta_table", SQL: `CREATE TABLE beta_data (id INTEGER PRIMARY KEY)`},
	}); err != nil {
		t.Fatalf("Run beta: %v", err)
	}

	status, err := r.Status(ctx, "alpha", "beta")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status["alpha"]) != 1 || len(status["beta"]) != 1 {
		t.Errorf("unexpected status: %+v", status)
	}
}
