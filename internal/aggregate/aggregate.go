package aggregate

import (
	"fmt"
	"sort"
	"time"

	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/oee"
)

// MicroStopPolicy decides how micro-stops relate to the general stop count.
type MicroStopPolicy string

const (
	// CountBoth counts a micro-stop in both StopCount and MicroStopCount.
	CountBoth MicroStopPolicy = "count_both"
	// Separate counts a micro-stop only in MicroStopCount.
	Separate MicroStopPolicy = "separate"
)

// Options configures the fold.
type Options struct {
	MicroStopThreshold time.Duration
	Policy             MicroStopPolicy
}

// Input is the resolved slice for one window. PriorStates carries each
// asset's last known state from before Start.
type Input struct {
	Start       time.Time
	End         time.Time
	Events      []model.Event
	PriorStates map[string]model.AssetState
}

// Warning describes a soft inconsistency found while folding events.
type Warning struct {
	EventID   int64            `json:"event_id"`
	Timestamp time.Time        `json:"timestamp"`
	Expected  model.AssetState `json:"expected_state"`
	Reported  model.AssetState `json:"reported_state"`
	Message   string           `json:"message"`
}

// AssetAggregate holds one asset's totals over a window.
type AssetAggregate struct {
	AssetID         string           `json:"asset_id"`
	RuntimeSeconds  float64          `json:"runtime_seconds"`
	DowntimeSeconds float64          `json:"downtime_seconds"`
	StopCount       int              `json:"stop_count"`
	MicroStopCount  int              `json:"micro_stop_count"`
	AvailabilityPct float64          `json:"availability_pct"`
	LastState       model.AssetState `json:"last_state,omitempty"`
	Warnings        []Warning        `json:"warnings,omitempty"`
}

// Aggregate folds the input into one aggregate per asset, sorted by asset id.
// Assets with no events and no known prior state are omitted. An empty window
// yields zero totals, never an error.
func Aggregate(in Input, opts Options) []AssetAggregate {
	if opts.Policy == "" {
		opts.Policy = CountBoth
	}
	end := in.End
	if end.Before(in.Start) {
		end = in.Start
	}

	byAsset := make(map[string][]model.Event)
	for _, e := range in.Events {
		byAsset[e.AssetID] = append(byAsset[e.AssetID], e)
	}
	for id, state := range in.PriorStates {
		if _, ok := byAsset[id]; !ok && state.Valid() {
			byAsset[id] = nil
		}
	}

	ids := make([]string, 0, len(byAsset))
	for id := range byAsset {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]AssetAggregate, 0, len(ids))
	for _, id := range ids {
		events := byAsset[id]
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].Timestamp.Equal(events[j].Timestamp) {
				return events[i].ID < events[j].ID
			}
			return events[i].Timestamp.Before(events[j].Timestamp)
		})

		t := newTracker(id, in.Start, end, in.PriorStates[id], opts)
		for _, e := range events {
			t.apply(e)
		}
		result = append(result, t.finish())
	}
	return result
}

// Totals sums aggregates into calculator input.
func Totals(aggs []AssetAggregate) oee.Totals {
	var t oee.Totals
	for _, a := range aggs {
		t.RuntimeSeconds += a.RuntimeSeconds
		t.DowntimeSeconds += a.DowntimeSeconds
		t.Stops += a.StopCount
		t.MicroStops += a.MicroStopCount
	}
	return t
}

// tracker walks one asset's events. Time between consecutive observations is
// attributed to the state the asset was tracked in.
type tracker struct {
	opts  Options
	start time.Time
	end   time.Time

	assetID   string
	state     model.AssetState
	cursor    time.Time
	stopSince time.Time

	runtime  time.Duration
	downtime time.Duration
	stops    int
	micro    int
	warnings []Warning
}

func newTracker(assetID string, start, end time.Time, prior model.AssetState, opts Options) *tracker {
	t := &tracker{
		opts:    opts,
		start:   start,
		end:     end,
		assetID: assetID,
		cursor:  start,
	}
	if prior.Valid() {
		t.state = prior
	}
	return t
}

func (t *tracker) apply(e model.Event) {
	at := t.clamp(e.Timestamp)
	resynced := false

	switch {
	case t.state == "":
		// Nothing known before the first event: trust what it reports.
		if e.PreviousState.Valid() {
			t.state = e.PreviousState
		}
	case e.PreviousState.Valid() && e.PreviousState != t.state:
		resynced = true
		t.warnings = append(t.warnings, Warning{
			EventID:   e.ID,
			Timestamp: e.Timestamp,
			Expected:  t.state,
			Reported:  e.PreviousState,
			Message: fmt.Sprintf("%s event reports previous state %s but asset was tracked as %s; resynchronized to %s",
				e.EventType, e.PreviousState, t.state, e.NewState),
		})
	}

	t.accrue(at)

	from := e.PreviousState
	if !from.Valid() {
		from = t.state
	}
	if e.EventType != model.EventTypeShift && from == model.StateStopped && e.NewState == model.StateRunning {
		// A stop the tracker never saw begin has no measurable length; only
		// the logger's reported duration can classify it.
		if !resynced || e.DurationSeconds > 0 {
			t.countStop(e, at)
		}
	}

	if e.NewState == model.StateStopped && t.state != model.StateStopped {
		t.stopSince = at
	}
	if e.NewState == model.StateRunning {
		t.stopSince = time.Time{}
	}
	if e.NewState.Valid() {
		t.state = e.NewState
	}
}

// countStop records a completed stop. The event's reported duration wins over
// the measured one since the stop may have started before the window.
func (t *tracker) countStop(e model.Event, at time.Time) {
	length := time.Duration(e.DurationSeconds * float64(time.Second))
	if length <= 0 {
		since := t.stopSince
		if since.IsZero() {
			since = t.start
		}
		length = at.Sub(since)
	}

	isMicro := t.opts.MicroStopThreshold > 0 && length < t.opts.MicroStopThreshold
	if isMicro {
		t.micro++
	}
	if !isMicro || t.opts.Policy == CountBoth {
		t.stops++
	}
}

func (t *tracker) accrue(at time.Time) {
	if at.After(t.cursor) {
		d := at.Sub(t.cursor)
		switch t.state {
		case model.StateRunning:
			t.runtime += d
		case model.StateStopped:
			t.downtime += d
		}
		t.cursor = at
	}
}

func (t *tracker) clamp(at time.Time) time.Time {
	if at.Before(t.start) {
		return t.start
	}
	if at.After(t.end) {
		return t.end
	}
	return at
}

// finish attributes the open interval up to the window end to the last state.
func (t *tracker) finish() AssetAggregate {
	t.accrue(t.end)

	runtime := t.runtime.Seconds()
	downtime := t.downtime.Seconds()
	return AssetAggregate{
		AssetID:         t.assetID,
		RuntimeSeconds:  runtime,
		DowntimeSeconds: downtime,
		StopCount:       t.stops,
		MicroStopCount:  t.micro,
		AvailabilityPct: oee.AvailabilityPct(runtime, downtime),
		LastState:       t.state,
		Warnings:        t.warnings,
	}
}
