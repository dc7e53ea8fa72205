package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-monitor-backend/config"
	"asset-monitor-backend/internal/archive"
	"asset-monitor-backend/internal/db"
	"asset-monitor-backend/internal/ledger"
	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/store"
)

var t0 = time.Date(2024, 5, 6, 6, 0, 0, 0, time.UTC)

type fixture struct {
	store   store.Store
	ledger  *ledger.Ledger
	service *Service
	now     time.Time
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	gdb, err := db.Init(&config.DatabaseConfig{DSN: "sqlite::memory:"})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	f := &fixture{store: store.NewGormStore(gdb), now: t0}
	f.ledger = ledger.New(f.store, 5)
	f.service = NewService(f.store, f.ledger, settings, func() time.Time { return f.now })
	return f
}

func (f *fixture) append(t *testing.T, asset string, typ model.EventType, prev, next model.AssetState, offset time.Duration, dur float64) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), model.Event{
		AssetID:         asset,
		EventType:       typ,
		PreviousState:   prev,
		NewState:        next,
		Timestamp:       t0.Add(offset),
		DurationSeconds: dur,
	})
	require.NoError(t, err)
}

func (f *fixture) seedStopStartStop(t *testing.T) {
	f.append(t, "L1-PRESS-01", model.EventTypeStop, model.StateRunning, model.StateStopped, 0, 0)
	f.append(t, "L1-PRESS-01", model.EventTypeStart, model.StateStopped, model.StateRunning, 60*time.Second, 60)
	f.append(t, "L1-PRESS-01", model.EventTypeStop, model.StateRunning, model.StateStopped, 120*time.Second, 60)
}

func defaultSettings() Settings {
	return Settings{MicroStopThreshold: 300 * time.Second}
}

func TestGenerateShiftReport_OpenShiftIsProvisional(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	sh, err := f.service.OpenShift(ctx, "Morning", t0)
	require.NoError(t, err)
	f.seedStopStartStop(t)

	f.now = t0.Add(180 * time.Second)
	r, err := f.service.GenerateShiftReport(ctx, sh.ID, Options{IsFinal: true})
	require.NoError(t, err)

	assert.Equal(t, sh.ID, r.ShiftID)
	assert.False(t, r.ShiftMetrics.IsFinal)
	assert.False(t, r.GenerationMetadata.IsFinal)
	assert.True(t, r.GenerationMetadata.FinalRequested)
	assert.Equal(t, 3, r.GenerationMetadata.EventCount)
	assert.Nil(t, r.RawEvents)

	require.Len(t, r.PerAssetMetrics, 1)
	a := r.PerAssetMetrics[0]
	assert.Equal(t, "L1-PRESS-01", a.AssetID)
	assert.Equal(t, 60.0, a.RuntimeSeconds)
	assert.Equal(t, 120.0, a.DowntimeSeconds)
	assert.Equal(t, 1, a.StopCount)
	assert.Equal(t, 1, a.MicroStopCount)
	assert.Equal(t, 33.3, r.ShiftMetrics.AvailabilityPct)
	assert.Equal(t, 100.0, r.ShiftMetrics.PerformancePct)
	assert.Equal(t, 33.3, r.ShiftMetrics.OEEPct)
}

func TestGenerateShiftReport_RuntimeNeverDecreasesWhileOpen(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	sh, err := f.service.OpenShift(ctx, "Night", t0)
	require.NoError(t, err)
	f.append(t, "L2-OVEN-01", model.EventTypeStart, model.StateStopped, model.StateRunning, 30*time.Second, 30)

	f.now = t0.Add(10 * time.Minute)
	first, err := f.service.GenerateShiftReport(ctx, sh.ID, Options{})
	require.NoError(t, err)

	f.now = t0.Add(25 * time.Minute)
	second, err := f.service.GenerateShiftReport(ctx, sh.ID, Options{IncludeRawData: true})
	require.NoError(t, err)

	assert.Greater(t, second.ShiftMetrics.TotalRuntimeSeconds, first.ShiftMetrics.TotalRuntimeSeconds)
	assert.Len(t, second.RawEvents, 1)
}

func TestGenerateShiftReport_CarriedOverState(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	f.append(t, "L3-FILLER-01", model.EventTypeStart, model.StateStopped, model.StateRunning, -time.Hour, 0)
	sh, err := f.service.OpenShift(ctx, "Day", t0)
	require.NoError(t, err)
	_, err = f.service.CloseShift(ctx, sh.ID, t0.Add(time.Hour))
	require.NoError(t, err)

	f.now = t0.Add(2 * time.Hour)
	r, err := f.service.GenerateShiftReport(ctx, sh.ID, Options{})
	require.NoError(t, err)

	require.Len(t, r.PerAssetMetrics, 1)
	assert.Equal(t, 3600.0, r.PerAssetMetrics[0].RuntimeSeconds)
	assert.Equal(t, 0.0, r.PerAssetMetrics[0].DowntimeSeconds)
	assert.True(t, r.ShiftMetrics.IsFinal)
	assert.False(t, r.GenerationMetadata.FinalRequested)
}

func TestGenerateShiftReport_UnknownShift(t *testing.T) {
	f := newFixture(t, defaultSettings())

	_, err := f.service.GenerateShiftReport(context.Background(), 404, Options{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.service.ArchiveShift(context.Background(), 404, Options{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerateShiftReport_EmptyShift(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	sh, err := f.service.OpenShift(ctx, "Quiet", t0)
	require.NoError(t, err)

	f.now = t0.Add(time.Hour)
	r, err := f.service.GenerateShiftReport(ctx, sh.ID, Options{})
	require.NoError(t, err)
	assert.Empty(t, r.PerAssetMetrics)
	assert.Equal(t, 0.0, r.ShiftMetrics.AvailabilityPct)
	assert.Equal(t, 0.0, r.ShiftMetrics.OEEPct)
}

func TestGenerateShiftReport_ProductionCounts(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	sh, err := f.service.OpenShift(ctx, "Morning", t0)
	require.NoError(t, err)
	f.seedStopStartStop(t)
	_, err = f.service.CloseShift(ctx, sh.ID, t0.Add(300*time.Second))
	require.NoError(t, err)

	_, err = f.service.RecordProduction(ctx, model.ProductionCount{ShiftID: sh.ID, TotalCount: 10, GoodCount: 9, IdealCycleSeconds: 5})
	require.NoError(t, err)

	r, err := f.service.GenerateShiftReport(ctx, sh.ID, Options{})
	require.NoError(t, err)
	assert.True(t, r.GenerationMetadata.ProductionDataUsed)
	assert.Equal(t, 20.0, r.ShiftMetrics.AvailabilityPct)
	assert.Equal(t, 83.3, r.ShiftMetrics.PerformancePct)
	assert.Equal(t, 90.0, r.ShiftMetrics.QualityPct)
	assert.Equal(t, 15.0, r.ShiftMetrics.OEEPct)
}

func TestGenerateShiftReport_PerAssetProductionScope(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	f.append(t, "L1-PRESS-01", model.EventTypeStart, model.StateStopped, model.StateRunning, -time.Hour, 0)
	f.append(t, "L1-PRESS-02", model.EventTypeStart, model.StateStopped, model.StateRunning, -time.Hour, 0)
	sh, err := f.service.OpenShift(ctx, "Morning", t0)
	require.NoError(t, err)
	_, err = f.service.CloseShift(ctx, sh.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	f.now = t0.Add(2 * time.Hour)

	// Only one of the two running assets reports counts.
	_, err = f.service.RecordProduction(ctx, model.ProductionCount{
		ShiftID: sh.ID, AssetID: "L1-PRESS-01", TotalCount: 3600, GoodCount: 3600, IdealCycleSeconds: 1,
	})
	require.NoError(t, err)

	r, err := f.service.GenerateShiftReport(ctx, sh.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, 7200.0, r.ShiftMetrics.TotalRuntimeSeconds)
	assert.Equal(t, 100.0, r.ShiftMetrics.AvailabilityPct)
	assert.Equal(t, 100.0, r.ShiftMetrics.PerformancePct)
	assert.Equal(t, 100.0, r.ShiftMetrics.QualityPct)
	assert.Equal(t, 100.0, r.ShiftMetrics.OEEPct)

	// A whole-shift row covers every asset's runtime.
	_, err = f.service.RecordProduction(ctx, model.ProductionCount{
		ShiftID: sh.ID, TotalCount: 3600, GoodCount: 3600, IdealCycleSeconds: 1,
	})
	require.NoError(t, err)

	r, err = f.service.GenerateShiftReport(ctx, sh.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, 50.0, r.ShiftMetrics.PerformancePct)
	assert.Equal(t, 50.0, r.ShiftMetrics.OEEPct)
}

func TestRecordProduction_Validation(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	sh, err := f.service.OpenShift(ctx, "Morning", t0)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		count model.ProductionCount
		err   error
	}{
		{name: "good exceeds total", count: model.ProductionCount{ShiftID: sh.ID, TotalCount: 5, GoodCount: 6}, err: ErrInvalidProduction},
		{name: "negative count", count: model.ProductionCount{ShiftID: sh.ID, TotalCount: -1}, err: ErrInvalidProduction},
		{name: "negative cycle", count: model.ProductionCount{ShiftID: sh.ID, TotalCount: 1, IdealCycleSeconds: -2}, err: ErrInvalidProduction},
		{name: "unknown shift", count: model.ProductionCount{ShiftID: sh.ID + 100, TotalCount: 1}, err: store.ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.RecordProduction(ctx, tc.count)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestArchiveShift_SurvivesShiftDeletion(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	sh, err := f.service.OpenShift(ctx, "Morning", t0)
	require.NoError(t, err)
	f.seedStopStartStop(t)
	_, err = f.service.CloseShift(ctx, sh.ID, t0.Add(180*time.Second))
	require.NoError(t, err)

	f.now = t0.Add(time.Hour)
	archives, err := f.service.ArchiveShift(ctx, sh.ID, Options{IncludeRawData: true, IsFinal: true})
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, model.ArchiveTypeShiftReport, archives[0].ArchiveType)
	assert.Equal(t, model.ArchiveTypeEvents, archives[1].ArchiveType)

	require.NoError(t, f.service.DeleteShift(ctx, sh.ID))
	_, err = f.service.GetShift(ctx, sh.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	loaded, err := f.service.GetArchive(ctx, archives[0].ID)
	require.NoError(t, err)
	snapshot, err := archive.DecodeShiftReport(loaded)
	require.NoError(t, err)
	assert.Equal(t, sh.ID, snapshot.ShiftID)
	assert.True(t, snapshot.ShiftMetrics.IsFinal)
	assert.Equal(t, 60.0, snapshot.ShiftMetrics.TotalRuntimeSeconds)

	listed, err := f.service.ListArchives(ctx, sh.ID, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestArchiveShift_RegenerationCreatesNewRecords(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	sh, err := f.service.OpenShift(ctx, "Morning", t0)
	require.NoError(t, err)
	f.seedStopStartStop(t)
	_, err = f.service.CloseShift(ctx, sh.ID, t0.Add(180*time.Second))
	require.NoError(t, err)

	first, err := f.service.ArchiveShift(ctx, sh.ID, Options{})
	require.NoError(t, err)
	second, err := f.service.ArchiveShift(ctx, sh.ID, Options{})
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Equal(t, string(first[0].ArchivedData), string(second[0].ArchivedData))
}

func TestCloseShift_AutoArchive(t *testing.T) {
	settings := defaultSettings()
	settings.AutoArchiveOnClose = true
	f := newFixture(t, settings)
	ctx := context.Background()

	sh, err := f.service.OpenShift(ctx, "Morning", t0)
	require.NoError(t, err)

	f.now = t0.Add(time.Hour)
	closed, err := f.service.CloseShift(ctx, sh.ID, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, closed.EndTime)
	assert.True(t, f.now.Equal(*closed.EndTime))

	listed, err := f.service.ListArchives(ctx, sh.ID, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = f.service.CloseShift(ctx, sh.ID, time.Time{})
	assert.ErrorIs(t, err, store.ErrShiftClosed)
}

func TestOpenShift_Validation(t *testing.T) {
	f := newFixture(t, defaultSettings())

	_, err := f.service.OpenShift(context.Background(), "  ", t0)
	assert.ErrorIs(t, err, ErrInvalidShift)
}

func TestAggregateWindow(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	f.seedStopStartStop(t)
	f.append(t, "L1-PRESS-02", model.EventTypeStart, model.StateStopped, model.StateRunning, 90*time.Second, 90)
	f.now = t0.Add(time.Hour)

	aggs, err := f.service.AggregateWindow(ctx, "", t0, t0.Add(180*time.Second))
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, "L1-PRESS-01", aggs[0].AssetID)
	assert.Equal(t, 60.0, aggs[0].RuntimeSeconds)
	assert.Equal(t, "L1-PRESS-02", aggs[1].AssetID)
	assert.Equal(t, 90.0, aggs[1].RuntimeSeconds)

	aggs, err = f.service.AggregateWindow(ctx, "L1-PRESS-02", t0, t0.Add(180*time.Second))
	require.NoError(t, err)
	require.Len(t, aggs, 1)

	_, err = f.service.AggregateWindow(ctx, "", t0.Add(time.Minute), t0)
	assert.Error(t, err)
}
