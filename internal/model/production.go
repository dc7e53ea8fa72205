package model

import "time"

// ProductionCount holds piece counts reported for a shift. An empty AssetID
// means the counts cover the whole shift.
type ProductionCount struct {
	ID                int64     `gorm:"primaryKey" json:"id"`
	ShiftID           int64     `gorm:"not null;uniqueIndex:idx_production_shift_asset,priority:1" json:"shift_id"`
	AssetID           string    `gorm:"size:64;not null;default:'';uniqueIndex:idx_production_shift_asset,priority:2" json:"asset_id"`
	TotalCount        int64     `gorm:"not null" json:"total_count"`
	GoodCount         int64     `gorm:"not null" json:"good_count"`
	IdealCycleSeconds float64   `gorm:"not null" json:"ideal_cycle_seconds"`
	UpdatedAt         time.Time `json:"updated_at"`
}
