package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"asset-monitor-backend/internal/aggregate"
	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/oee"
)

// ErrMissingShift is returned when a snapshot is not tied to a persisted shift.
var ErrMissingShift = errors.New("archive requires a shift id")

// Metadata describes how a report was generated. GeneratedAt is supplied by
// the caller so identical inputs give identical snapshots.
type Metadata struct {
	GeneratedAt               time.Time `json:"generated_at"`
	WindowStart               time.Time `json:"window_start"`
	WindowEnd                 time.Time `json:"window_end"`
	IsFinal                   bool      `json:"is_final"`
	FinalRequested            bool      `json:"final_requested"`
	MicroStopThresholdSeconds float64   `json:"micro_stop_threshold_seconds"`
	MicroStopPolicy           string    `json:"micro_stop_policy"`
	ProductionDataUsed        bool      `json:"production_data_used"`
	AssetCount                int       `json:"asset_count"`
	EventCount                int       `json:"event_count"`
	WarningCount              int       `json:"warning_count"`
}

// ShiftInfo is the shift as it was when the snapshot was taken.
type ShiftInfo struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	StartTime time.Time         `json:"start_time"`
	EndTime   *time.Time        `json:"end_time"`
	Status    model.ShiftStatus `json:"status"`
}

// ShiftReport is the archived_data of a SHIFT_REPORT archive.
type ShiftReport struct {
	ShiftID            int64                      `json:"shift_id"`
	Shift              ShiftInfo                  `json:"shift"`
	PerAssetMetrics    []aggregate.AssetAggregate `json:"per_asset_metrics"`
	ShiftMetrics       oee.ShiftMetrics           `json:"shift_metrics"`
	GenerationMetadata Metadata                   `json:"generation_metadata"`
}

// EventLog is the archived_data of an EVENTS archive.
type EventLog struct {
	ShiftID            int64         `json:"shift_id"`
	Shift              ShiftInfo     `json:"shift"`
	Events             []model.Event `json:"events"`
	GenerationMetadata Metadata      `json:"generation_metadata"`
}

// Builder assembles archive records. It never persists anything itself.
type Builder struct {
	newID func() string
}

// NewBuilder creates a builder that assigns random UUIDs.
func NewBuilder() *Builder {
	return &Builder{newID: uuid.NewString}
}

// NewShiftReport normalizes report parts into their snapshot form: UTC times,
// aggregates sorted by asset and rounded to one decimal.
func NewShiftReport(s model.Shift, aggs []aggregate.AssetAggregate, m oee.ShiftMetrics, md Metadata) ShiftReport {
	per := make([]aggregate.AssetAggregate, len(aggs))
	for i, a := range aggs {
		a.RuntimeSeconds = oee.Round(a.RuntimeSeconds)
		a.DowntimeSeconds = oee.Round(a.DowntimeSeconds)
		a.AvailabilityPct = oee.Round(a.AvailabilityPct)
		if len(a.Warnings) > 0 {
			ws := make([]aggregate.Warning, len(a.Warnings))
			for j, w := range a.Warnings {
				w.Timestamp = w.Timestamp.UTC()
				ws[j] = w
			}
			a.Warnings = ws
		}
		per[i] = a
	}
	sort.SliceStable(per, func(i, j int) bool { return per[i].AssetID < per[j].AssetID })

	m.TotalRuntimeSeconds = oee.Round(m.TotalRuntimeSeconds)
	m.TotalDowntimeSeconds = oee.Round(m.TotalDowntimeSeconds)

	return ShiftReport{
		ShiftID:            s.ID,
		Shift:              shiftInfo(s),
		PerAssetMetrics:    per,
		ShiftMetrics:       m,
		GenerationMetadata: normalize(md),
	}
}

// Build creates a SHIFT_REPORT archive. Each call yields a new archive id,
// while archived_data depends only on the inputs.
func (b *Builder) Build(s model.Shift, aggs []aggregate.AssetAggregate, m oee.ShiftMetrics, md Metadata) (model.Archive, error) {
	if s.ID == 0 {
		return model.Archive{}, ErrMissingShift
	}
	return b.record(s, model.ArchiveTypeShiftReport, fmt.Sprintf("Shift Report: %s", s.Name), NewShiftReport(s, aggs, m, md))
}

// BuildEvents creates an EVENTS archive holding the raw ledger slice.
func (b *Builder) BuildEvents(s model.Shift, events []model.Event, md Metadata) (model.Archive, error) {
	if s.ID == 0 {
		return model.Archive{}, ErrMissingShift
	}
	frozen := make([]model.Event, len(events))
	for i, e := range events {
		e.Timestamp = e.Timestamp.UTC()
		frozen[i] = e
	}
	snapshot := EventLog{
		ShiftID:            s.ID,
		Shift:              shiftInfo(s),
		Events:             frozen,
		GenerationMetadata: normalize(md),
	}
	return b.record(s, model.ArchiveTypeEvents, fmt.Sprintf("Shift Events: %s", s.Name), snapshot)
}

func (b *Builder) record(s model.Shift, typ model.ArchiveType, title string, payload any) (model.Archive, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return model.Archive{}, fmt.Errorf("failed to encode %s snapshot for shift %d: %w", typ, s.ID, err)
	}
	return model.Archive{
		ID:           b.newID(),
		ShiftID:      s.ID,
		Title:        fmt.Sprintf("%s (%s)", title, s.StartTime.UTC().Format("2006-01-02")),
		ArchiveType:  typ,
		ArchivedData: datatypes.JSON(data),
		CreatedAt:    generatedAt(payload),
	}, nil
}

// DecodeShiftReport reads back the snapshot of a SHIFT_REPORT archive.
func DecodeShiftReport(a model.Archive) (ShiftReport, error) {
	if a.ArchiveType != model.ArchiveTypeShiftReport {
		return ShiftReport{}, fmt.Errorf("archive %s is %s, not %s", a.ID, a.ArchiveType, model.ArchiveTypeShiftReport)
	}
	var r ShiftReport
	if err := json.Unmarshal(a.ArchivedData, &r); err != nil {
		return ShiftReport{}, fmt.Errorf("failed to decode archive %s: %w", a.ID, err)
	}
	return r, nil
}

func generatedAt(payload any) time.Time {
	switch p := payload.(type) {
	case ShiftReport:
		return p.GenerationMetadata.GeneratedAt
	case EventLog:
		return p.GenerationMetadata.GeneratedAt
	}
	return time.Now().UTC()
}

func shiftInfo(s model.Shift) ShiftInfo {
	info := ShiftInfo{ID: s.ID, Name: s.Name, StartTime: s.StartTime.UTC(), Status: s.Status}
	if s.EndTime != nil {
		end := s.EndTime.UTC()
		info.EndTime = &end
	}
	return info
}

func normalize(md Metadata) Metadata {
	md.GeneratedAt = md.GeneratedAt.UTC()
	md.WindowStart = md.WindowStart.UTC()
	md.WindowEnd = md.WindowEnd.UTC()
	return md
}
