package model

import "time"

// Asset is a piece of monitored equipment, keyed by the code its field logger reports.
type Asset struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string    `gorm:"size:256;not null" json:"display_name"`
	Line        int       `gorm:"index" json:"line"`
	Station     string    `gorm:"size:64" json:"station"`
	Seq         int       `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
