package archive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-monitor-backend/internal/aggregate"
	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/oee"
)

var (
	shiftStart = time.Date(2024, 5, 6, 6, 0, 0, 0, time.UTC)
	shiftEnd   = shiftStart.Add(8 * time.Hour)
)

func fixture() (model.Shift, []aggregate.AssetAggregate, oee.ShiftMetrics, Metadata) {
	s := model.Shift{ID: 42, Name: "Morning", StartTime: shiftStart, EndTime: &shiftEnd, Status: model.ShiftStatusClosed}
	aggs := []aggregate.AssetAggregate{
		{AssetID: "L1-PRESS-02", RuntimeSeconds: 27000.04, DowntimeSeconds: 1800, StopCount: 2, AvailabilityPct: 93.75},
		{AssetID: "L1-PRESS-01", RuntimeSeconds: 28800, AvailabilityPct: 100},
	}
	m := oee.NewCalculator(oee.Defaults{}).Calculate(aggregate.Totals(aggs), nil, true)
	md := Metadata{
		GeneratedAt:               shiftEnd.Add(time.Minute),
		WindowStart:               shiftStart,
		WindowEnd:                 shiftEnd,
		IsFinal:                   true,
		MicroStopThresholdSeconds: 300,
		MicroStopPolicy:           "count_both",
		AssetCount:                len(aggs),
	}
	return s, aggs, m, md
}

func TestBuild_Deterministic(t *testing.T) {
	b := NewBuilder()
	s, aggs, m, md := fixture()

	first, err := b.Build(s, aggs, m, md)
	require.NoError(t, err)
	second, err := b.Build(s, aggs, m, md)
	require.NoError(t, err)

	assert.Equal(t, string(first.ArchivedData), string(second.ArchivedData))
	assert.NotEqual(t, first.ID, second.ID, "every build is an independent archive record")
	assert.Equal(t, model.ArchiveTypeShiftReport, first.ArchiveType)
	assert.Equal(t, int64(42), first.ShiftID)
	assert.Equal(t, "Shift Report: Morning (2024-05-06)", first.Title)
	assert.True(t, md.GeneratedAt.Equal(first.CreatedAt))
}

func TestBuild_SnapshotContents(t *testing.T) {
	s, aggs, m, md := fixture()

	a, err := NewBuilder().Build(s, aggs, m, md)
	require.NoError(t, err)

	r, err := DecodeShiftReport(a)
	require.NoError(t, err)
	assert.Equal(t, int64(42), r.ShiftID)
	assert.Equal(t, "Morning", r.Shift.Name)
	require.Len(t, r.PerAssetMetrics, 2)
	assert.Equal(t, "L1-PRESS-01", r.PerAssetMetrics[0].AssetID)
	assert.Equal(t, "L1-PRESS-02", r.PerAssetMetrics[1].AssetID)
	assert.Equal(t, 27000.0, r.PerAssetMetrics[1].RuntimeSeconds)
	assert.Equal(t, 96.9, r.ShiftMetrics.AvailabilityPct)
	assert.True(t, r.GenerationMetadata.IsFinal)

	// The caller's slice is left untouched.
	assert.Equal(t, "L1-PRESS-02", aggs[0].AssetID)
	assert.Equal(t, 27000.04, aggs[0].RuntimeSeconds)
}

func TestBuild_NormalizesTimezones(t *testing.T) {
	s, aggs, m, md := fixture()
	loc := time.FixedZone("EST", -5*3600)
	local := s
	local.StartTime = s.StartTime.In(loc)
	localEnd := s.EndTime.In(loc)
	local.EndTime = &localEnd
	localMD := md
	localMD.GeneratedAt = md.GeneratedAt.In(loc)

	b := NewBuilder()
	utc, err := b.Build(s, aggs, m, md)
	require.NoError(t, err)
	shifted, err := b.Build(local, aggs, m, localMD)
	require.NoError(t, err)

	assert.JSONEq(t, string(utc.ArchivedData), string(shifted.ArchivedData))
	assert.Equal(t, string(utc.ArchivedData), string(shifted.ArchivedData))
}

func TestBuild_RequiresShiftID(t *testing.T) {
	s, aggs, m, md := fixture()
	s.ID = 0

	_, err := NewBuilder().Build(s, aggs, m, md)
	assert.ErrorIs(t, err, ErrMissingShift)

	_, err = NewBuilder().BuildEvents(s, nil, md)
	assert.ErrorIs(t, err, ErrMissingShift)
}

func TestBuild_EmptyAggregates(t *testing.T) {
	s, _, _, md := fixture()
	m := oee.NewCalculator(oee.Defaults{}).Calculate(oee.Totals{}, nil, true)

	a, err := NewBuilder().Build(s, nil, m, md)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(a.ArchivedData, &raw))
	assert.Equal(t, "[]", string(raw["per_asset_metrics"]))
	assert.Contains(t, raw, "shift_id")
	assert.Contains(t, raw, "generation_metadata")
}

func TestBuildEvents(t *testing.T) {
	s, _, _, md := fixture()
	events := []model.Event{
		{ID: 1, AssetID: "L1-PRESS-01", EventType: model.EventTypeStop, PreviousState: model.StateRunning, NewState: model.StateStopped, Timestamp: shiftStart.Add(time.Hour)},
	}

	a, err := NewBuilder().BuildEvents(s, events, md)
	require.NoError(t, err)
	assert.Equal(t, model.ArchiveTypeEvents, a.ArchiveType)
	assert.Equal(t, "Shift Events: Morning (2024-05-06)", a.Title)

	var snapshot EventLog
	require.NoError(t, json.Unmarshal(a.ArchivedData, &snapshot))
	require.Len(t, snapshot.Events, 1)
	assert.Equal(t, "L1-PRESS-01", snapshot.Events[0].AssetID)

	_, err = DecodeShiftReport(a)
	assert.Error(t, err)
}
