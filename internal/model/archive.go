package model

import (
	"time"

	"gorm.io/datatypes"
)

// ArchiveType distinguishes what an archive snapshot contains.
type ArchiveType string

const (
	ArchiveTypeShiftReport ArchiveType = "SHIFT_REPORT"
	ArchiveTypeEvents      ArchiveType = "EVENTS"
)

// Archive is an immutable point-in-time snapshot of a shift. ShiftID is kept
// as a plain column so the archive outlives the shift it describes.
type Archive struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	ShiftID      int64          `gorm:"index;not null" json:"shift_id"`
	Title        string         `gorm:"size:256;not null" json:"title"`
	ArchiveType  ArchiveType    `gorm:"size:32;not null;index" json:"archive_type"`
	ArchivedData datatypes.JSON `gorm:"type:json;not null" json:"archived_data"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
}
