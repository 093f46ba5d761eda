package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timewarden/pluginhost/sdk"
	"github.com/timewarden/pluginhost/schema"
)

// RegisterBuiltinMethods installs the host's standard persistence methods on
// the registry. Record methods publish the matching event on the bus;
// activities.list runs registered query filters over the result rows.
func RegisterBuiltinMethods(reg *MethodRegistry, schemas *schema.Registry, bus *Bus) error {
	methods := map[string]DBMethod{
		"activities.record":     recordActivity(bus),
		"activities.list":       listActivities(schemas),
		"categories.create":     createCategory(bus),
		"categories.list":       listCategories,
		"manual_entries.record": recordManualEntry(bus),
	}
	for name, fn := range methods {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

type recordActivityParams struct {
	AppName     string `json:"app_name"`
	WindowTitle string `json:"window_title,omitempty"`
	StartedAt   string `json:"started_at,omitempty"` // RFC 3339; defaults to now
	DurationMS  int64  `json:"duration_ms"`
	CategoryID  *int64 `json:"category_id,omitempty"`
}

func recordActivity(bus *Bus) DBMethod {
	return func(ctx context.Context, db *sql.DB, params json.RawMessage) (json.RawMessage, error) {
		var p recordActivityParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("activities.record: bad params: %w", err)
		}
		if p.AppName == "" {
			return nil, fmt.Errorf("activities.record: app_name is required")
		}
		startedAt := time.Now().UTC()
		if p.StartedAt != "" {
			t, err := time.Parse(time.RFC3339, p.StartedAt)
			if err != nil {
				return nil, fmt.Errorf("activities.record: invalid started_at: %w", err)
			}
			startedAt = t
		}

		res, err := db.ExecContext(ctx,
			`INSERT INTO activities (app_name, window_title, started_at, duration_ms, category_id)
			 VALUES (?, ?, ?, ?, ?)`,
			p.AppName, p.WindowTitle, startedAt, p.DurationMS, p.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("activities.record: insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("activities.record: last insert id: %w", err)
		}

		activity := &sdk.Activity{
			ID:          id,
			AppName:     p.AppName,
			WindowTitle: p.WindowTitle,
			StartedAt:   startedAt,
			Duration:    time.Duration(p.DurationMS) * time.Millisecond,
		}
		if p.CategoryID != nil {
			activity.CategoryID = *p.CategoryID
		}
		bus.Publish(sdk.Event{
			Kind:     sdk.EventActivityRecorded,
			Time:     time.Now().UTC(),
			Activity: activity,
		})

		return json.Marshal(map[string]int64{"id": id})
	}
}

type listActivitiesParams struct {
	AppName string   `json:"app_name,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Filters []string `json:"filters,omitempty"` // names of registered query filters
}

func listActivities(schemas *schema.Registry) DBMethod {
	return func(ctx context.Context, db *sql.DB, params json.RawMessage) (json.RawMessage, error) {
		var p listActivitiesParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("activities.list: bad params: %w", err)
			}
		}
		if p.Limit <= 0 || p.Limit > 500 {
			p.Limit = 100
		}

		// Resolve filters up front so an unknown name fails before the query.
		filters := make([]sdk.FilterFunc, 0, len(p.Filters))
		for _, name := range p.Filters {
			fn, ok := schemas.QueryFilter(sdk.EntityActivity, name)
			if !ok {
				return nil, fmt.Errorf("activities.list: unknown filter %q", name)
			}
			filters = append(filters, fn)
		}

		query := `SELECT id, app_name, window_title, started_at, duration_ms, category_id
			FROM activities`
		args := []any{}
		if p.AppName != "" {
			query += ` WHERE app_name = ?`
			args = append(args, p.AppName)
		}
		query += ` ORDER BY started_at DESC LIMIT ?`
		args = append(args, p.Limit)

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("activities.list: query: %w", err)
		}
		defer rows.Close()

		var result []map[string]any
		for rows.Next() {
			var (
				id          int64
				appName     string
				windowTitle sql.NullString
				startedAt   time.Time
				durationMS  int64
				categoryID  sql.NullInt64
			)
			if err := rows.Scan(&id, &appName, &windowTitle, &startedAt, &durationMS, &categoryID); err != nil {
				return nil, fmt.Errorf("activities.list: scan: %w", err)
			}
			row := map[string]any{
				"id":          id,
				"app_name":    appName,
				"started_at":  startedAt.Format(time.RFC3339),
				"duration_ms": durationMS,
			}
			if windowTitle.Valid {
				row["window_title"] = windowTitle.String
			}
			if categoryID.Valid {
				row["category_id"] = categoryID.Int64
			}

			keep := true
			for _, fn := range filters {
				ok, err := fn(row)
				if err != nil {
					return nil, fmt.Errorf("activities.list: filter: %w", err)
				}
				if !ok {
					keep = false
					break
				}
			}
			if keep {
				result = append(result, row)
			}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("activities.list: rows: %w", err)
		}
		if result == nil {
			result = []map[string]any{}
		}
		return json.Marshal(result)
	}
}

type createCategoryParams struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func createCategory(bus *Bus) DBMethod {
	return func(ctx context.Context, db *sql.DB, params json.RawMessage) (json.RawMessage, error) {
		var p createCategoryParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("categories.create: bad params: %w", err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("categories.create: name is required")
		}

		res, err := db.ExecContext(ctx,
			`INSERT INTO categories (name, color) VALUES (?, ?)`, p.Name, p.Color)
		if err != nil {
			return nil, fmt.Errorf("categories.create: insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("categories.create: last insert id: %w", err)
		}

		bus.Publish(sdk.Event{
			Kind:     sdk.EventCategoryCreated,
			Time:     time.Now().UTC(),
			Category: &sdk.Category{ID: id, Name: p.Name, Color: p.Color},
		})

		return json.Marshal(map[string]int64{"id": id})
	}
}

func listCategories(ctx context.Context, db *sql.DB, _ json.RawMessage) (json.RawMessage, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, color FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("categories.list: query: %w", err)
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		var (
			id    int64
			name  string
			color sql.NullString
		)
		if err := rows.Scan(&id, &name, &color); err != nil {
			return nil, fmt.Errorf("categories.list: scan: %w", err)
		}
		row := map[string]any{"id": id, "name": name}
		if color.Valid {
			row["color"] = color.String
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("categories.list: rows: %w", err)
	}
	if result == nil {
		result = []map[string]any{}
	}
	return json.Marshal(result)
}

type recordManualEntryParams struct {
	Description string `json:"description"`
	StartedAt   string `json:"started_at"`
	EndedAt     string `json:"ended_at"`
	CategoryID  *int64 `json:"category_id,omitempty"`
}

func recordManualEntry(bus *Bus) DBMethod {
	return func(ctx context.Context, db *sql.DB, params json.RawMessage) (json.RawMessage, error) {
		var p recordManualEntryParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("manual_entries.record: bad params: %w", err)
		}
		if p.Description == "" {
			return nil, fmt.Errorf("manual_entries.record: description is required")
		}
		startedAt, err := time.Parse(time.RFC3339, p.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("manual_entries.record: invalid started_at: %w", err)
		}
		endedAt, err := time.Parse(time.RFC3339, p.EndedAt)
		if err != nil {
			return nil, fmt.Errorf("manual_entries.record: invalid ended_at: %w", err)
		}
		if !endedAt.After(startedAt) {
			return nil, fmt.Errorf("manual_entries.record: ended_at must be after started_at")
		}

		res, err := db.ExecContext(ctx,
			`INSERT INTO manual_entries (description, started_at, ended_at, category_id)
			 VALUES (?, ?, ?, ?)`,
			p.Description, startedAt, endedAt, p.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("manual_entries.record: insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("manual_entries.record: last insert id: %w", err)
		}

		bus.Publish(sdk.Event{
			Kind: sdk.EventManualEntryAdded,
			Time: time.Now().UTC(),
		})

		return json.Marshal(map[string]int64{"id": id})
	}
}
