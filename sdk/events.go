package sdk

import "time"

// EventKind identifies a host event stream.
type EventKind string

const (
	EventActivityRecorded EventKind = "activity.recorded"
	EventCategoryCreated  EventKind = "category.created"
	EventManualEntryAdded EventKind = "manual_entry.added"
)

// Activity is a recorded slice of tracked time.
type Activity struct {
	ID          int64         `json:"id"`
	AppName     string        `json:"app_name"`
	WindowTitle string        `json:"window_title"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	CategoryID  int64         `json:"category_id,omitempty"`
}

// Category is a user-defined grouping of activities.
type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Event is one host notification delivered to subscribers. The payload
// pointer matching Kind is set; the others are nil.
type Event struct {
	Kind     EventKind `json:"kind"`
	Time     time.Time `json:"time"`
	Activity *Activity `json:"activity,omitempty"`
	Category *Category `json:"category,omitempty"`
}

// Subscription is a handle to a stream of host events. The host pushes onto
// a per-subscriber queue; delivery never invokes plugin code directly.
type Subscription interface {
	// C returns the event channel. It is closed after Cancel.
	C() <-chan Event
	// Cancel stops delivery and releases the subscription. Safe to call
	// more than once.
	Cancel()
}
