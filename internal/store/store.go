package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"asset-monitor-backend/internal/model"
)

var (
	// ErrNotFound is returned when a shift, asset or archive id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrShiftClosed is returned when closing a shift that already has an end time.
	ErrShiftClosed = errors.New("shift already closed")
	// ErrInvalidShiftWindow is returned when a shift would end before it starts.
	ErrInvalidShiftWindow = errors.New("shift end time precedes start time")
	// ErrDuplicate is returned when a unique key rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	UpsertAsset(ctx context.Context, asset model.Asset) error
	GetAsset(ctx context.Context, id string) (model.Asset, error)
	ListAssets(ctx context.Context) ([]model.Asset, error)

	InsertEvent(ctx context.Context, event *model.Event) error
	EventExists(ctx context.Context, assetID string, at time.Time, eventType model.EventType) (bool, error)
	LatestEvent(ctx context.Context, assetID string) (*model.Event, error)
	QueryEvents(ctx context.Context, assetID string, from, to time.Time) ([]model.Event, error)
	LatestEventsBefore(ctx context.Context, assetID string, before time.Time) ([]model.Event, error)

	CreateShift(ctx context.Context, shift *model.Shift) error
	GetShift(ctx context.Context, id int64) (model.Shift, error)
	ListShifts(ctx context.Context, limit int) ([]model.Shift, error)
	CloseShift(ctx context.Context, id int64, end time.Time) (model.Shift, error)
	DeleteShift(ctx context.Context, id int64) error

	UpsertProduction(ctx context.Context, count *model.ProductionCount) error
	ListProduction(ctx context.Context, shiftID int64) ([]model.ProductionCount, error)

	SaveArchive(ctx context.Context, archive *model.Archive) (string, error)
	LoadArchive(ctx context.Context, id string) (model.Archive, error)
	ListArchives(ctx context.Context, shiftID int64, limit int) ([]model.Archive, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for handlers that manage simple rows directly.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// UpsertAsset creates the asset or refreshes its parsed metadata.
func (s *gormStore) UpsertAsset(ctx context.Context, asset model.Asset) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "line", "station", "seq", "updated_at"}),
	}).Create(&asset).Error
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", asset.ID, err)
	}
	return nil
}

func (s *gormStore) GetAsset(ctx context.Context, id string) (model.Asset, error) {
	var asset model.Asset
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error; err != nil {
		return model.Asset{}, notFound(err, "asset %s", id)
	}
	return asset, nil
}

func (s *gormStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	var assets []model.Asset
	if err := s.db.WithContext(ctx).Order("id").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

// InsertEvent appends an event row. Unique key violations map to ErrDuplicate.
func (s *gormStore) InsertEvent(ctx context.Context, event *model.Event) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event for asset %s at %s: %w", event.AssetID, event.Timestamp.Format(time.RFC3339), ErrDuplicate)
		}
		return fmt.Errorf("failed to insert event for asset %s: %w", event.AssetID, err)
	}
	return nil
}

func (s *gormStore) EventExists(ctx context.Context, assetID string, at time.Time, eventType model.EventType) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Event{}).
		Where("asset_id = ? AND occurred_at = ? AND event_type = ?", assetID, at.UTC(), eventType).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up event for asset %s: %w", assetID, err)
	}
	return count > 0, nil
}

// LatestEvent returns the newest event for an asset, or nil when it has none.
func (s *gormStore) LatestEvent(ctx context.Context, assetID string) (*model.Event, error) {
	var events []model.Event
	err := s.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("occurred_at DESC").Order("id DESC").
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest event for asset %s: %w", assetID, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// QueryEvents returns events with from <= timestamp < to, ordered by time.
// An empty assetID selects every asset.
func (s *gormStore) QueryEvents(ctx context.Context, assetID string, from, to time.Time) ([]model.Event, error) {
	q := s.db.WithContext(ctx).Where("occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC())
	if assetID != "" {
		q = q.Where("asset_id = ?", assetID)
	}

	var events []model.Event
	if err := q.Order("occurred_at").Order("id").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

// LatestEventsBefore returns, per asset, the most recent event strictly before the given time.
func (s *gormStore) LatestEventsBefore(ctx context.Context, assetID string, before time.Time) ([]model.Event, error) {
	latest := s.db.WithContext(ctx).Model(&model.Event{}).
		Select("asset_id, MAX(occurred_at) AS latest_at").
		Where("occurred_at < ?", before.UTC()).
		Group("asset_id")
	if assetID != "" {
		latest = latest.Where("asset_id = ?", assetID)
	}

	var rows []model.Event
	err := s.db.WithContext(ctx).
		Select("asset_events.*").
		Joins("JOIN (?) latest ON latest.asset_id = asset_events.asset_id AND latest.latest_at = asset_events.occurred_at", latest).
		Order("asset_events.asset_id").Order("asset_events.id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest events before %s: %w", before.Format(time.RFC3339), err)
	}

	// Several events can share the latest timestamp; the highest id wins.
	byAsset := make(map[string]model.Event, len(rows))
	for _, e := range rows {
		if prev, ok := byAsset[e.AssetID]; !ok || e.ID > prev.ID {
			byAsset[e.AssetID] = e
		}
	}
	result := make([]model.Event, 0, len(byAsset))
	for _, e := range byAsset {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AssetID < result[j].AssetID })
	return result, nil
}

func (s *gormStore) CreateShift(ctx context.Context, shift *model.Shift) error {
	if shift.EndTime != nil && shift.EndTime.Before(shift.StartTime) {
		return ErrInvalidShiftWindow
	}
	shift.StartTime = shift.StartTime.UTC()
	shift.Status = model.ShiftStatusActive
	if shift.EndTime != nil {
		end := shift.EndTime.UTC()
		shift.EndTime = &end
		shift.Status = model.ShiftStatusClosed
	}
	if err := s.db.WithContext(ctx).Create(shift).Error; err != nil {
		return fmt.Errorf("failed to create shift %q: %w", shift.Name, err)
	}
	return nil
}

func (s *gormStore) GetShift(ctx context.Context, id int64) (model.Shift, error) {
	var shift model.Shift
	if err := s.db.WithContext(ctx).First(&shift, id).Error; err != nil {
		return model.Shift{}, notFound(err, "shift %d", id)
	}
	return shift, nil
}

func (s *gormStore) ListShifts(ctx context.Context, limit int) ([]model.Shift, error) {
	var shifts []model.Shift
	if err := s.db.WithContext(ctx).Order("start_time DESC").Limit(pageLimit(limit)).Find(&shifts).Error; err != nil {
		return nil, fmt.Errorf("failed to list shifts: %w", err)
	}
	return shifts, nil
}

// CloseShift sets the end time exactly once. The conditional update makes a
// concurrent second close fail with ErrShiftClosed.
func (s *gormStore) CloseShift(ctx context.Context, id int64, end time.Time) (model.Shift, error) {
	shift, err := s.GetShift(ctx, id)
	if err != nil {
		return model.Shift{}, err
	}
	if !shift.IsOpen() {
		return model.Shift{}, fmt.Errorf("shift %d: %w", id, ErrShiftClosed)
	}
	end = end.UTC()
	if end.Before(shift.StartTime) {
		return model.Shift{}, fmt.Errorf("shift %d: %w", id, ErrInvalidShiftWindow)
	}

	res := s.db.WithContext(ctx).Model(&model.Shift{}).
		Where("id = ? AND end_time IS NULL", id).
		Updates(map[string]interface{}{
			"end_time": end,
			"status":   model.ShiftStatusClosed,
		})
	if res.Error != nil {
		return model.Shift{}, fmt.Errorf("failed to close shift %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Shift{}, fmt.Errorf("shift %d: %w", id, ErrShiftClosed)
	}

	shift.EndTime = &end
	shift.Status = model.ShiftStatusClosed
	return shift, nil
}

// DeleteShift removes the shift and its production counts. Archives are kept.
func (s *gormStore) DeleteShift(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("shift_id = ?", id).Delete(&model.ProductionCount{}).Error; err != nil {
			return fmt.Errorf("failed to delete production counts for shift %d: %w", id, err)
		}
		res := tx.Delete(&model.Shift{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete shift %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("shift %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (s *gormStore) UpsertProduction(ctx context.Context, count *model.ProductionCount) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shift_id"}, {Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_count", "good_count", "ideal_cycle_seconds", "updated_at"}),
	}).Create(count).Error
	if err != nil {
		return fmt.Errorf("failed to upsert production for shift %d: %w", count.ShiftID, err)
	}
	return nil
}

func (s *gormStore) ListProduction(ctx context.Context, shiftID int64) ([]model.ProductionCount, error) {
	var counts []model.ProductionCount
	if err := s.db.WithContext(ctx).Where("shift_id = ?", shiftID).Order("asset_id").Find(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to list production for shift %d: %w", shiftID, err)
	}
	return counts, nil
}

// SaveArchive persists a new archive record and returns its id.
func (s *gormStore) SaveArchive(ctx context.Context, archive *model.Archive) (string, error) {
	if err := s.db.WithContext(ctx).Create(archive).Error; err != nil {
		return "", fmt.Errorf("failed to save archive for shift %d: %w", archive.ShiftID, err)
	}
	return archive.ID, nil
}

func (s *gormStore) LoadArchive(ctx context.Context, id string) (model.Archive, error) {
	var archive model.Archive
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&archive).Error; err != nil {
		return model.Archive{}, notFound(err, "archive %s", id)
	}
	return archive, nil
}

// ListArchives returns archive headers, newest first. shiftID 0 lists all.
func (s *gormStore) ListArchives(ctx context.Context, shiftID int64, limit int) ([]model.Archive, error) {
	q := s.db.WithContext(ctx).Omit("archived_data").Order("created_at DESC")
	if shiftID != 0 {
		q = q.Where("shift_id = ?", shiftID)
	}
	var archives []model.Archive
	if err := q.Limit(pageLimit(limit)).Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	return archives, nil
}

// pageLimit bounds list queries; gorm treats Limit(0) as "return nothing".
func pageLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}

// isUniqueViolation also matches the raw sqlite message since the sqlite
// driver does not translate errors.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf("failed to load "+format+": %w", append(args, err)...)
}
