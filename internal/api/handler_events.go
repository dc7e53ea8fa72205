package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"asset-monitor-backend/internal/ledger"
	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/shift"
)

const streamKeepAlive = 15 * time.Second

type eventRequest struct {
	AssetID         string    `json:"asset_id"`
	EventType       string    `json:"event_type"`
	PreviousState   string    `json:"previous_state"`
	NewState        string    `json:"new_state"`
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"duration_seconds"`
}

func (r eventRequest) toEvent() model.Event {
	return model.Event{
		AssetID:         strings.TrimSpace(r.AssetID),
		EventType:       model.EventType(strings.ToUpper(strings.TrimSpace(r.EventType))),
		PreviousState:   model.AssetState(strings.ToUpper(strings.TrimSpace(r.PreviousState))),
		NewState:        model.AssetState(strings.ToUpper(strings.TrimSpace(r.NewState))),
		Timestamp:       r.Timestamp,
		DurationSeconds: r.DurationSeconds,
	}
}

type ingestError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type ingestResponse struct {
	Appended   int           `json:"appended"`
	Duplicates int           `json:"duplicates"`
	Rejected   int           `json:"rejected"`
	Events     []model.Event `json:"events"`
	Errors     []ingestError `json:"errors,omitempty"`
}

// PostEvents appends one event (JSON object) or a batch (JSON array). A batch
// is applied in order and keeps going past rejected entries.
func (h *Handler) PostEvents(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var reqs []eventRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		c.JSON(http.StatusOK, h.appendBatch(c, reqs))
		return
	}

	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ev, err := h.ledger.Append(c.Request.Context(), req.toEvent())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (h *Handler) appendBatch(c *gin.Context, reqs []eventRequest) ingestResponse {
	resp := ingestResponse{Events: make([]model.Event, 0, len(reqs))}
	for i, req := range reqs {
		ev, err := h.ledger.Append(c.Request.Context(), req.toEvent())
		switch {
		case err == nil:
			resp.Appended++
			resp.Events = append(resp.Events, ev)
		case errors.Is(err, ledger.ErrDuplicateEvent):
			resp.Duplicates++
		default:
			resp.Rejected++
			resp.Errors = append(resp.Errors, ingestError{Index: i, Error: err.Error()})
		}
	}
	return resp
}

// GetEvents handles GET /api/events?asset_id&from&to.
func (h *Handler) GetEvents(c *gin.Context) {
	from, to, ok := queryRange(c)
	if !ok {
		return
	}
	if to.Before(from) {
		respondError(c, shift.ErrInvalidRange)
		return
	}
	events, err := h.ledger.Query(c.Request.Context(), c.Query("asset_id"), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// StreamEvents pushes appended events to the client as server-sent events,
// optionally filtered by asset_id.
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live feed is not enabled"})
		return
	}
	assetID := c.Query("asset_id")
	events, cancel := h.hub.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"asset_id": assetID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if assetID == "" || ev.AssetID == assetID {
				c.SSEvent("event", ev)
			}
			return true
		}
	})
}
