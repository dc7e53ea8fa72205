package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/parse"
	"asset-monitor-backend/internal/store"
	"asset-monitor-backend/internal/telemetry"
)

var (
	// ErrInvalidEvent is returned for events missing required fields or carrying unknown values.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrDuplicateEvent is returned when the same asset, timestamp and type is already recorded.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrOutOfOrderEvent is returned when an event predates the asset's latest recorded event.
	ErrOutOfOrderEvent = errors.New("out of order event")
)

// AppendHook is called after an event has been durably appended.
type AppendHook func(model.Event)

// Ledger is the append-only asset event log.
type Ledger struct {
	store          store.Store
	driftTolerance time.Duration

	// mu serializes the ordering check with the insert.
	mu    sync.Mutex
	hooks []AppendHook
}

// New creates a ledger over the given store.
func New(s store.Store, driftToleranceSeconds float64) *Ledger {
	return &Ledger{
		store:          s,
		driftTolerance: time.Duration(driftToleranceSeconds * float64(time.Second)),
	}
}

// OnAppend registers a hook. Hooks run synchronously after the append has
// released the ledger lock, so a slow hook delays only its own caller.
func (l *Ledger) OnAppend(hook AppendHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Append validates and records an event. Within an asset, timestamps must be
// non-decreasing; clock drift against the previous event is only logged.
func (l *Ledger) Append(ctx context.Context, ev model.Event) (model.Event, error) {
	ev.ID = 0
	ev.Timestamp = ev.Timestamp.UTC()
	if err := Validate(ev); err != nil {
		telemetry.EventsRejected.WithLabelValues("invalid").Inc()
		return model.Event{}, err
	}

	stored, hooks, err := l.insert(ctx, ev)
	if err != nil {
		return model.Event{}, err
	}
	for _, hook := range hooks {
		hook(stored)
	}
	return stored, nil
}

// insert runs the ordering checks and the write under l.mu and returns a
// snapshot of the hooks to call once the lock is released.
func (l *Ledger) insert(ctx context.Context, ev model.Event) (model.Event, []AppendHook, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, err := l.store.LatestEvent(ctx, ev.AssetID)
	if err != nil {
		return model.Event{}, nil, err
	}

	if last == nil {
		l.registerAsset(ctx, ev.AssetID)
	} else {
		if !ev.Timestamp.After(last.Timestamp) {
			exists, err := l.store.EventExists(ctx, ev.AssetID, ev.Timestamp, ev.EventType)
			if err != nil {
				return model.Event{}, nil, err
			}
			if exists {
				telemetry.EventsRejected.WithLabelValues("duplicate").Inc()
				return model.Event{}, nil, fmt.Errorf("asset %s %s at %s: %w", ev.AssetID, ev.EventType, ev.Timestamp.Format(time.RFC3339), ErrDuplicateEvent)
			}
			if ev.Timestamp.Before(last.Timestamp) {
				telemetry.EventsRejected.WithLabelValues("out_of_order").Inc()
				return model.Event{}, nil, fmt.Errorf("asset %s event at %s precedes latest %s: %w",
					ev.AssetID, ev.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339), ErrOutOfOrderEvent)
			}
		}
		l.checkDrift(*last, ev)
	}

	if err := l.store.InsertEvent(ctx, &ev); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			telemetry.EventsRejected.WithLabelValues("duplicate").Inc()
			return model.Event{}, nil, fmt.Errorf("%v: %w", err, ErrDuplicateEvent)
		}
		return model.Event{}, nil, err
	}
	telemetry.EventsIngested.WithLabelValues(string(ev.EventType)).Inc()

	return ev, append([]AppendHook(nil), l.hooks...), nil
}

// Query returns events in [from, to) ordered by timestamp. An empty assetID means all assets.
func (l *Ledger) Query(ctx context.Context, assetID string, from, to time.Time) ([]model.Event, error) {
	return l.store.QueryEvents(ctx, assetID, from, to)
}

// LastKnownStates derives each asset's state just before the given time from
// its most recent event. Assets with no earlier events are absent.
func (l *Ledger) LastKnownStates(ctx context.Context, assetID string, before time.Time) (map[string]model.AssetState, error) {
	events, err := l.store.LatestEventsBefore(ctx, assetID, before)
	if err != nil {
		return nil, err
	}
	states := make(map[string]model.AssetState, len(events))
	for _, e := range events {
		states[e.AssetID] = e.NewState
	}
	return states, nil
}

// CurrentState returns the asset's latest event, or store.ErrNotFound when it has none.
func (l *Ledger) CurrentState(ctx context.Context, assetID string) (model.Event, error) {
	last, err := l.store.LatestEvent(ctx, assetID)
	if err != nil {
		return model.Event{}, err
	}
	if last == nil {
		return model.Event{}, fmt.Errorf("no events for asset %s: %w", assetID, store.ErrNotFound)
	}
	return *last, nil
}

// Validate checks an event's fields before it can enter the ledger.
func Validate(ev model.Event) error {
	switch {
	case ev.AssetID == "":
		return fmt.Errorf("asset_id is required: %w", ErrInvalidEvent)
	case !ev.EventType.Valid():
		return fmt.Errorf("unknown event_type %q: %w", ev.EventType, ErrInvalidEvent)
	case !ev.NewState.Valid():
		return fmt.Errorf("unknown new_state %q: %w", ev.NewState, ErrInvalidEvent)
	case ev.PreviousState != "" && !ev.PreviousState.Valid():
		return fmt.Errorf("unknown previous_state %q: %w", ev.PreviousState, ErrInvalidEvent)
	case ev.Timestamp.IsZero():
		return fmt.Errorf("timestamp is required: %w", ErrInvalidEvent)
	case math.IsNaN(ev.DurationSeconds) || math.IsInf(ev.DurationSeconds, 0) || ev.DurationSeconds < 0:
		return fmt.Errorf("duration_seconds must be a non-negative number: %w", ErrInvalidEvent)
	case ev.EventType == model.EventTypeStart && ev.NewState != model.StateRunning:
		return fmt.Errorf("START events must transition to %s: %w", model.StateRunning, ErrInvalidEvent)
	case ev.EventType == model.EventTypeStop && ev.NewState != model.StateStopped:
		return fmt.Errorf("STOP events must transition to %s: %w", model.StateStopped, ErrInvalidEvent)
	}
	return nil
}

// checkDrift compares the reported duration of the prior state with the gap
// between the two events.
func (l *Ledger) checkDrift(prev, ev model.Event) {
	if ev.DurationSeconds <= 0 || l.driftTolerance <= 0 {
		return
	}
	expected := prev.Timestamp.Add(time.Duration(ev.DurationSeconds * float64(time.Second)))
	drift := ev.Timestamp.Sub(expected)
	if drift < 0 {
		drift = -drift
	}
	if drift > l.driftTolerance {
		telemetry.SequenceWarnings.WithLabelValues("drift").Inc()
		log.Printf("Warning: asset %s event at %s drifts %s from previous event + reported duration",
			ev.AssetID, ev.Timestamp.Format(time.RFC3339), drift)
	}
}

func (l *Ledger) registerAsset(ctx context.Context, code string) {
	asset := model.Asset{ID: code, DisplayName: code}
	parsed, err := parse.ParseAssetCode(code)
	if err != nil {
		log.Printf("Error parsing asset code %q: %v", code, err)
	} else {
		asset.Line = parsed.Line
		asset.Station = parsed.Station
		asset.Seq = parsed.Seq
	}
	if err := l.store.UpsertAsset(ctx, asset); err != nil {
		log.Printf("Warning: could not register asset %s: %v", code, err)
	}
}
