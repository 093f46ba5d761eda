package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/timewarden/pluginhost/sdk"
	"github.com/timewarden/pluginhost/schema"
)

func TestMethodRegistry(t *testing.T) {
	reg := NewMethodRegistry(nil)
	ctx := context.Background()

	echo := func(_ context.Context, _ *sql.DB, params json.RawMessage) (json.RawMessage, error) {
		return params, nil
	}
	if err := reg.Register("echo", echo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("echo", echo); err == nil {
		t.Error("expected duplicate registration error")
	}
	if err := reg.Register("", echo); err == nil {
		t.Error("expected empty name error")
	}
	if err := reg.Register("nilfn", nil); err == nil {
		t.Error("expected nil function error")
	}

	out, err := reg.Call(ctx, "echo", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Errorf("unexpected result: %s", out)
	}

	if _, err := reg.Call(ctx, "missing", nil); err == nil {
		t.Error("expected unknown method error")
	}

	names := reg.Names()
	if len(names) != 1 || names[0] != "echo" {
		t.Errorf("unexpected names: %v", names)
	}
}

func newBuiltinFixture(t *testing.T) (*MethodRegistry, *schema.Registry, *Bus) {
	t.Helper()
	db := openTestDB(t)
	schemas, err := schema.NewRegistry(db, nil)
	if err != nil {
		t.Fatalf("schema.NewRegistry: %v", err)
	}
	bus := NewBus(nil)
	t.Cleanup(bus.Close)
	reg := NewMethodRegistry(db)
	if err := RegisterBuiltinMethods(reg, schemas, bus); err != nil {
		t.Fatalf("RegisterBuiltinMethods: %v", err)
	}
	return reg, schemas, bus
}

func TestActivitiesRecordAndList(t *testing.T) {
	reg, _, bus := newBuiltinFixture(t)
	ctx := context.Background()

	sub := bus.Subscribe(sdk.EventActivityRecorded)

	out, err := reg.Call(ctx, "activities.record", json.RawMessage(
		`{"app_name":"editor","window_title":"main.go","duration_ms":60000}`))
	if err != nil {
		t.Fatalf("activities.record: %v", err)
	}
	var created map[string]int64
	if err := json.Unmarshal(out, &created); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if created["id"] == 0 {
		t.Error("no id returned")
	}

	ev := recvEvent(t, sub)
	if ev.Activity == nil || ev.Activity.AppName != "editor" {
		t.Errorf("unexpected event: %+v", ev)
	}

	out, err = reg.Call(ctx, "activities.list", json.RawMessage(`{"app_name":"editor"}`))
	if err != nil {
		t.Fatalf("activities.list: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(out, &rows); err != nil {
		t.Fatalf("unmarshal rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["app_name"] != "editor" {
		t.Errorf("unexpected rows: %+v", rows)
	}

	// Filtering on a different app yields an empty (not null) list.
	out, err = reg.Call(ctx, "activities.list", json.RawMessage(`{"app_name":"browser"}`))
	if err != nil {
		t.Fatalf("activities.list: %v", err)
	}
	if string(out) != "[]" {
		t.Errorf("expected empty JSON array, got %s", out)
	}
}

func TestActivitiesRecordValidation(t *testing.T) {
	reg, _, _ := newBuiltinFixture(t)
	ctx := context.Background()

	if _, err := reg.Call(ctx, "activities.record", json.RawMessage(`{"duration_ms":1}`)); err == nil {
		t.Error("expected error for missing app_name")
	}
	if _, err := reg.Call(ctx, "activities.record", json.RawMessage(
		`{"app_name":"x","started_at":"not-a-time"}`)); err == nil {
		t.Error("expected error for malformed started_at")
	}
}

func TestActivitiesListRunsRegisteredFilters(t *testing.T) {
	reg, schemas, _ := newBuiltinFixture(t)
	ctx := context.Background()

	for _, app := range []string{"editor", "editor", "browser"} {
		params := fmt.Sprintf(`{"app_name":%q,"duration_ms":1000}`, app)
		if _, err := reg.Call(ctx, "activities.record", json.RawMessage(params)); err != nil {
			t.Fatalf("record %s: %v", app, err)
		}
	}

	if err := schemas.RegisterQueryFilters("fixture", sdk.EntityActivity, []sdk.QueryFilter{{
		Name: "editors_only",
		Filter: func(row map[string]any) (bool, error) {
			return row["app_name"] == "editor", nil
		},
	}}); err != nil {
		t.Fatalf("RegisterQueryFilters: %v", err)
	}

	out, err := reg.Call(ctx, "activities.list", json.RawMessage(`{"filters":["editors_only"]}`))
	if err != nil {
		t.Fatalf("activities.list: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(out, &rows); err != nil {
		t.Fatalf("unmarshal rows: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("filter kept %d rows, want 2", len(rows))
	}

	// Unknown filter names fail before the query runs.
	if _, err := reg.Call(ctx, "activities.list", json.RawMessage(`{"filters":["nope"]}`)); err == nil {
		t.Error("expected unknown filter error")
	}
}

func TestCategoriesCreateAndList(t *testing.T) {
	reg, _, bus := newBuiltinFixture(t)
	ctx := context.Background()

	sub := bus.Subscribe(sdk.EventCategoryCreated)

	if _, err := reg.Call(ctx, "categories.create", json.RawMessage(`{"name":"work","color":"#ff0000"}`)); err != nil {
		t.Fatalf("categories.create: %v", err)
	}
	ev := recvEvent(t, sub)
	if ev.Category == nil || ev.Category.Name != "work" {
		t.Errorf("unexpected event: %+v", ev)
	}

	if _, err := reg.Call(ctx, "categories.create", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing name")
	}

	out, err := reg.Call(ctx, "categories.list", nil)
	if err != nil {
		t.Fatalf("categories.list: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(out, &rows); err != nil {
		t.Fatalf("unmarshal rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "work" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestManualEntriesRecord(t *testing.T) {
	reg, _, bus := newBuiltinFixture(t)
	ctx := context.Background()

	sub := bus.Subscribe(sdk.EventManualEntryAdded)

	if _, err := reg.Call(ctx, "manual_entries.record", json.RawMessage(
		`{"description":"standup","started_at":"2026-08-31T09:00:00Z","ended_at":"2026-08-31T09:15:00Z"}`)); err != nil {
		t.Fatalf("manual_entries.record: %v", err)
	}
	if ev := recvEvent(t, sub); ev.Kind != sdk.EventManualEntryAdded {
		t.Errorf("unexpected event kind %q", ev.Kind)
	}

	tests := []string{
		`{"started_at":"2026-08-31T09:00:00Z","ended_at":"2026-08-31T09:15:00Z"}`,              // no description
		`{"description":"x","started_at":"bad","ended_at":"2026-08-31T09:15:00Z"}`,             // bad start
		`{"description":"x","started_at":"2026-08-31T09:15:00Z","ended_at":"09:00"}`,           // bad end
		`{"description":"x","started_at":"2026-08-31T09:15:00Z","ended_at":"2026-08-31T09:00:00Z"}`, // end before start
	}
	for _, params := range tests {
		if _, err := reg.Call(ctx, "manual_entries.record", json.RawMessage(params)); err == nil {
			t.Errorf("expected validation error for %s", params)
		}
	}
}
