package model

import "time"

// EventType is the kind of entry a field logger writes to the ledger.
type EventType string

const (
	EventTypeStart EventType = "START"
	EventTypeStop  EventType = "STOP"
	EventTypeShift EventType = "SHIFT"
)

// AssetState is the run state an asset can be observed in.
type AssetState string

const (
	StateRunning AssetState = "RUNNING"
	StateStopped AssetState = "STOPPED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeStart, EventTypeStop, EventTypeShift:
		return true
	}
	return false
}

// Valid reports whether s is a known asset state.
func (s AssetState) Valid() bool {
	return s == StateRunning || s == StateStopped
}

// Event is one immutable state change in the asset event ledger.
// DurationSeconds is how long the asset spent in PreviousState.
type Event struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	AssetID         string     `gorm:"size:64;not null;uniqueIndex:idx_asset_events_unique,priority:1;index:idx_asset_events_asset_time,priority:1" json:"asset_id"`
	EventType       EventType  `gorm:"size:16;not null;uniqueIndex:idx_asset_events_unique,priority:3" json:"event_type"`
	PreviousState   AssetState `gorm:"size:16" json:"previous_state"`
	NewState        AssetState `gorm:"size:16;not null" json:"new_state"`
	Timestamp       time.Time  `gorm:"column:occurred_at;not null;index;uniqueIndex:idx_asset_events_unique,priority:2;index:idx_asset_events_asset_time,priority:2" json:"timestamp"`
	DurationSeconds float64    `gorm:"not null;default:0" json:"duration_seconds"`
	CreatedAt       time.Time  `json:"-"`
}

// TableName keeps events out of the generic "events" namespace.
func (Event) TableName() string {
	return "asset_events"
}
