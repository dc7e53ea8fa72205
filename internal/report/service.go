package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"asset-monitor-backend/config"
	"asset-monitor-backend/internal/aggregate"
	"asset-monitor-backend/internal/archive"
	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/oee"
	"asset-monitor-backend/internal/shift"
	"asset-monitor-backend/internal/store"
	"asset-monitor-backend/internal/telemetry"
)

var (
	// ErrInvalidShift is returned when a shift cannot be opened as requested.
	ErrInvalidShift = errors.New("invalid shift")
	// ErrInvalidProduction is returned for inconsistent production counts.
	ErrInvalidProduction = errors.New("invalid production counts")
)

// Options controls report generation.
type Options struct {
	IncludeRawData bool
	IsFinal        bool
}

// Report is a generated shift report. RawEvents is only set when requested.
type Report struct {
	archive.ShiftReport
	RawEvents []model.Event `json:"raw_events,omitempty"`
}

// Settings are the tunables the service needs from configuration.
type Settings struct {
	MicroStopThreshold time.Duration
	MicroStopPolicy    aggregate.MicroStopPolicy
	Defaults           oee.Defaults
	AutoArchiveOnClose bool
}

// SettingsFromConfig maps the loaded configuration onto service settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MicroStopThreshold: time.Duration(cfg.Metrics.MicroStopThresholdSeconds * float64(time.Second)),
		MicroStopPolicy:    aggregate.MicroStopPolicy(cfg.Metrics.MicroStopPolicy),
		Defaults: oee.Defaults{
			PerformancePct: cfg.Metrics.DefaultPerformancePct,
			QualityPct:     cfg.Metrics.DefaultQualityPct,
		},
		AutoArchiveOnClose: cfg.Report.AutoArchiveOnClose,
	}
}

// Service generates reports and manages the shift lifecycle.
type Service struct {
	store    store.Store
	resolver *shift.Resolver
	calc     *oee.Calculator
	builder  *archive.Builder
	settings Settings
	now      func() time.Time
}

// NewService creates a report service. events is usually the ledger; now
// defaults to time.Now when nil.
func NewService(s store.Store, events shift.EventSource, settings Settings, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if settings.MicroStopPolicy == "" {
		settings.MicroStopPolicy = aggregate.CountBoth
	}
	return &Service{
		store:    s,
		resolver: shift.NewResolver(events, now),
		calc:     oee.NewCalculator(settings.Defaults),
		builder:  archive.NewBuilder(),
		settings: settings,
		now:      now,
	}
}

// generation is everything one report run produced, before rendering.
type generation struct {
	shift   model.Shift
	slice   shift.Slice
	aggs    []aggregate.AssetAggregate
	metrics oee.ShiftMetrics
	meta    archive.Metadata
}

// GenerateShiftReport aggregates the shift's window into a report. Asking for
// a final report on an open shift yields a provisional one; the request is
// recorded in the generation metadata.
func (s *Service) GenerateShiftReport(ctx context.Context, shiftID int64, opts Options) (Report, error) {
	g, err := s.generate(ctx, shiftID, opts)
	if err != nil {
		return Report{}, err
	}
	r := Report{ShiftReport: archive.NewShiftReport(g.shift, g.aggs, g.metrics, g.meta)}
	if opts.IncludeRawData {
		r.RawEvents = g.slice.Events
	}
	return r, nil
}

// AggregateWindow folds an arbitrary range for one asset, or all assets when
// assetID is empty.
func (s *Service) AggregateWindow(ctx context.Context, assetID string, from, to time.Time) ([]aggregate.AssetAggregate, error) {
	started := time.Now()
	defer func() {
		telemetry.ReportDuration.WithLabelValues("window").Observe(time.Since(started).Seconds())
	}()

	slice, err := s.resolver.ForRange(ctx, assetID, from, to)
	if err != nil {
		return nil, err
	}
	aggs := s.fold(slice)
	s.logWarnings(fmt.Sprintf("window %s..%s", slice.Window.Start.Format(time.RFC3339), slice.Window.End.Format(time.RFC3339)), aggs)
	return aggs, nil
}

// ArchiveShift generates the shift report and persists it as a new archive.
// With IncludeRawData the window's events are archived alongside it. The
// SHIFT_REPORT archive is always first in the result.
func (s *Service) ArchiveShift(ctx context.Context, shiftID int64, opts Options) ([]model.Archive, error) {
	g, err := s.generate(ctx, shiftID, opts)
	if err != nil {
		return nil, err
	}

	rec, err := s.builder.Build(g.shift, g.aggs, g.metrics, g.meta)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.SaveArchive(ctx, &rec); err != nil {
		return nil, err
	}
	telemetry.ArchivesCreated.WithLabelValues(string(rec.ArchiveType)).Inc()
	archives := []model.Archive{rec}

	if opts.IncludeRawData {
		events, err := s.builder.BuildEvents(g.shift, g.slice.Events, g.meta)
		if err != nil {
			return archives, err
		}
		if _, err := s.store.SaveArchive(ctx, &events); err != nil {
			return archives, err
		}
		telemetry.ArchivesCreated.WithLabelValues(string(events.ArchiveType)).Inc()
		archives = append(archives, events)
	}

	log.Printf("Archived shift %d (%s): %d archive(s), final=%t", g.shift.ID, g.shift.Name, len(archives), g.meta.IsFinal)
	return archives, nil
}

// GetArchive loads a stored archive with its snapshot.
func (s *Service) GetArchive(ctx context.Context, id string) (model.Archive, error) {
	return s.store.LoadArchive(ctx, id)
}

// ListArchives lists archive headers, newest first. shiftID 0 lists all.
func (s *Service) ListArchives(ctx context.Context, shiftID int64, limit int) ([]model.Archive, error) {
	return s.store.ListArchives(ctx, shiftID, limit)
}

// OpenShift starts a new shift. A zero start time means now.
func (s *Service) OpenShift(ctx context.Context, name string, start time.Time) (model.Shift, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Shift{}, fmt.Errorf("name is required: %w", ErrInvalidShift)
	}
	if start.IsZero() {
		start = s.now()
	}
	sh := model.Shift{Name: name, StartTime: start}
	if err := s.store.CreateShift(ctx, &sh); err != nil {
		return model.Shift{}, err
	}
	log.Printf("Opened shift %d (%s) at %s", sh.ID, sh.Name, sh.StartTime.Format(time.RFC3339))
	return sh, nil
}

// CloseShift sets the shift's end time. A zero end time means now. When
// auto-archiving is enabled the final report is archived right away; a failed
// archive does not undo the close.
func (s *Service) CloseShift(ctx context.Context, shiftID int64, end time.Time) (model.Shift, error) {
	if end.IsZero() {
		end = s.now()
	}
	sh, err := s.store.CloseShift(ctx, shiftID, end)
	if err != nil {
		return model.Shift{}, err
	}
	log.Printf("Closed shift %d (%s) at %s", sh.ID, sh.Name, sh.EndTime.Format(time.RFC3339))

	if s.settings.AutoArchiveOnClose {
		if _, err := s.ArchiveShift(ctx, sh.ID, Options{IsFinal: true}); err != nil {
			log.Printf("Error auto-archiving shift %d: %v", sh.ID, err)
		}
	}
	return sh, nil
}

// GetShift returns a shift by id.
func (s *Service) GetShift(ctx context.Context, shiftID int64) (model.Shift, error) {
	return s.store.GetShift(ctx, shiftID)
}

// ListShifts returns the most recent shifts first.
func (s *Service) ListShifts(ctx context.Context, limit int) ([]model.Shift, error) {
	return s.store.ListShifts(ctx, limit)
}

// DeleteShift removes a shift. Its archives stay.
func (s *Service) DeleteShift(ctx context.Context, shiftID int64) error {
	if err := s.store.DeleteShift(ctx, shiftID); err != nil {
		return err
	}
	log.Printf("Deleted shift %d", shiftID)
	return nil
}

// RecordProduction stores piece counts for a shift, or for one asset in it
// when count.AssetID is set.
func (s *Service) RecordProduction(ctx context.Context, count model.ProductionCount) (model.ProductionCount, error) {
	switch {
	case count.TotalCount < 0 || count.GoodCount < 0:
		return model.ProductionCount{}, fmt.Errorf("counts must not be negative: %w", ErrInvalidProduction)
	case count.GoodCount > count.TotalCount:
		return model.ProductionCount{}, fmt.Errorf("good_count %d exceeds total_count %d: %w", count.GoodCount, count.TotalCount, ErrInvalidProduction)
	case count.IdealCycleSeconds < 0:
		return model.ProductionCount{}, fmt.Errorf("ideal_cycle_seconds must not be negative: %w", ErrInvalidProduction)
	}
	if _, err := s.store.GetShift(ctx, count.ShiftID); err != nil {
		return model.ProductionCount{}, err
	}
	count.ID = 0
	if err := s.store.UpsertProduction(ctx, &count); err != nil {
		return model.ProductionCount{}, err
	}
	return count, nil
}

func (s *Service) generate(ctx context.Context, shiftID int64, opts Options) (generation, error) {
	started := time.Now()
	defer func() {
		telemetry.ReportDuration.WithLabelValues("shift").Observe(time.Since(started).Seconds())
	}()

	sh, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return generation{}, err
	}
	slice, err := s.resolver.ForShift(ctx, sh, "")
	if err != nil {
		return generation{}, err
	}

	aggs := s.fold(slice)
	s.logWarnings(fmt.Sprintf("shift %d", sh.ID), aggs)

	prod, err := s.production(ctx, sh.ID, aggs)
	if err != nil {
		return generation{}, err
	}

	isFinal := slice.Window.IsFinal
	if opts.IsFinal && !isFinal {
		log.Printf("Warning: final report requested for open shift %d; marking provisional", sh.ID)
	}
	metrics := s.calc.Calculate(aggregate.Totals(aggs), prod, isFinal)

	warnings := 0
	for _, a := range aggs {
		warnings += len(a.Warnings)
	}
	meta := archive.Metadata{
		GeneratedAt:               s.now().UTC(),
		WindowStart:               slice.Window.Start,
		WindowEnd:                 slice.Window.End,
		IsFinal:                   isFinal,
		FinalRequested:            opts.IsFinal,
		MicroStopThresholdSeconds: s.settings.MicroStopThreshold.Seconds(),
		MicroStopPolicy:           string(s.settings.MicroStopPolicy),
		ProductionDataUsed:        prod != nil,
		AssetCount:                len(aggs),
		EventCount:                len(slice.Events),
		WarningCount:              warnings,
	}
	return generation{shift: sh, slice: slice, aggs: aggs, metrics: metrics, meta: meta}, nil
}

func (s *Service) fold(slice shift.Slice) []aggregate.AssetAggregate {
	return aggregate.Aggregate(aggregate.Input{
		Start:       slice.Window.Start,
		End:         slice.Window.End,
		Events:      slice.Events,
		PriorStates: slice.PriorStates,
	}, aggregate.Options{
		MicroStopThreshold: s.settings.MicroStopThreshold,
		Policy:             s.settings.MicroStopPolicy,
	})
}

// production merges stored counts. A whole-shift row wins over per-asset rows.
// Per-asset counts are scoped to the runtime of the assets that reported them.
func (s *Service) production(ctx context.Context, shiftID int64, aggs []aggregate.AssetAggregate) (*oee.Production, error) {
	rows, err := s.store.ListProduction(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	var whole, perAsset oee.Production
	hasWhole := false
	reporting := make(map[string]bool)
	for _, r := range rows {
		p := oee.Production{
			TotalCount:      r.TotalCount,
			GoodCount:       r.GoodCount,
			IdealRunSeconds: r.IdealCycleSeconds * float64(r.TotalCount),
		}
		if r.AssetID == "" {
			whole, hasWhole = p, true
			continue
		}
		perAsset.TotalCount += p.TotalCount
		perAsset.GoodCount += p.GoodCount
		perAsset.IdealRunSeconds += p.IdealRunSeconds
		reporting[r.AssetID] = true
	}

	perAsset.Scoped = true
	for _, a := range aggs {
		if reporting[a.AssetID] {
			perAsset.RuntimeSeconds += a.RuntimeSeconds
		}
	}

	switch {
	case hasWhole && whole.TotalCount > 0:
		return &whole, nil
	case perAsset.TotalCount > 0:
		return &perAsset, nil
	}
	return nil, nil
}

func (s *Service) logWarnings(scope string, aggs []aggregate.AssetAggregate) {
	for _, a := range aggs {
		for _, w := range a.Warnings {
			telemetry.SequenceWarnings.WithLabelValues("state_mismatch").Inc()
			log.Printf("Warning: %s asset %s event %d: %s", scope, a.AssetID, w.EventID, w.Message)
		}
	}
}
