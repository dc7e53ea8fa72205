package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asset-monitor-backend/internal/model"
)

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("range end precedes start")

// Window is a half-open interval [Start, End). IsFinal is false while the
// shift is still open and End is only the current time.
type Window struct {
	ShiftID int64     `json:"shift_id,omitempty"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	IsFinal bool      `json:"is_final"`
}

// Duration is the window length, never negative.
func (w Window) Duration() time.Duration {
	if w.End.Before(w.Start) {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Empty reports whether the window covers no time.
func (w Window) Empty() bool {
	return w.Duration() == 0
}

// Resolve turns a shift into a window. An open shift ends at now; if now is
// before the shift start the window is empty.
func Resolve(s model.Shift, now time.Time) Window {
	w := Window{ShiftID: s.ID, Start: s.StartTime.UTC()}
	if s.EndTime != nil {
		w.End = s.EndTime.UTC()
		w.IsFinal = true
	} else {
		w.End = now.UTC()
	}
	if w.End.Before(w.Start) {
		w.End = w.Start
	}
	return w
}

// EventSource is the read side of the event ledger.
type EventSource interface {
	Query(ctx context.Context, assetID string, from, to time.Time) ([]model.Event, error)
	LastKnownStates(ctx context.Context, assetID string, before time.Time) (map[string]model.AssetState, error)
}

// Slice is everything the aggregator needs for one window.
type Slice struct {
	Window      Window
	Events      []model.Event
	PriorStates map[string]model.AssetState
}

// Resolver loads ledger slices for shifts and ad-hoc ranges.
type Resolver struct {
	events EventSource
	now    func() time.Time
}

// NewResolver creates a resolver. now defaults to time.Now when nil.
func NewResolver(events EventSource, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{events: events, now: now}
}

// Now returns the resolver's current time in UTC.
func (r *Resolver) Now() time.Time {
	return r.now().UTC()
}

// ForShift resolves the shift's window and loads its slice. An empty assetID
// covers every asset.
func (r *Resolver) ForShift(ctx context.Context, s model.Shift, assetID string) (Slice, error) {
	return r.load(ctx, Resolve(s, r.Now()), assetID)
}

// ForRange loads an arbitrary [from, to) slice. to is clipped to the current
// time since the future holds no events yet.
func (r *Resolver) ForRange(ctx context.Context, assetID string, from, to time.Time) (Slice, error) {
	if to.Before(from) {
		return Slice{}, fmt.Errorf("%s before %s: %w", to.Format(time.RFC3339), from.Format(time.RFC3339), ErrInvalidRange)
	}
	now := r.Now()
	w := Window{Start: from.UTC(), End: to.UTC(), IsFinal: true}
	if w.End.After(now) {
		w.End = now
		w.IsFinal = false
	}
	if w.End.Before(w.Start) {
		w.End = w.Start
	}
	return r.load(ctx, w, assetID)
}

func (r *Resolver) load(ctx context.Context, w Window, assetID string) (Slice, error) {
	slice := Slice{Window: w, Events: []model.Event{}, PriorStates: map[string]model.AssetState{}}
	if w.Empty() {
		return slice, nil
	}

	prior, err := r.events.LastKnownStates(ctx, assetID, w.Start)
	if err != nil {
		return Slice{}, fmt.Errorf("failed to load states before %s: %w", w.Start.Format(time.RFC3339), err)
	}
	events, err := r.events.Query(ctx, assetID, w.Start, w.End)
	if err != nil {
		return Slice{}, fmt.Errorf("failed to load events for window: %w", err)
	}

	if prior != nil {
		slice.PriorStates = prior
	}
	if events != nil {
		slice.Events = events
	}
	return slice, nil
}
