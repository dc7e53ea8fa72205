package model

import "time"

// ShiftStatus is the lifecycle state of a shift.
type ShiftStatus string

const (
	ShiftStatusActive ShiftStatus = "active"
	ShiftStatusClosed ShiftStatus = "closed"
)

// Shift is an operating period. EndTime is nil while the shift is in progress
// and is set exactly once when it closes.
type Shift struct {
	ID        int64       `gorm:"primaryKey" json:"id"`
	Name      string      `gorm:"size:128;not null" json:"name"`
	StartTime time.Time   `gorm:"not null;index" json:"start_time"`
	EndTime   *time.Time  `json:"end_time"`
	Status    ShiftStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsOpen reports whether the shift is still in progress.
func (s Shift) IsOpen() bool {
	return s.EndTime == nil
}
