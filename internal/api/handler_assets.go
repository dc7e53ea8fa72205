package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"asset-monitor-backend/internal/model"
)

// assetStateResponse is an asset's last known state, derived from its latest event.
type assetStateResponse struct {
	AssetID string           `json:"asset_id"`
	State   model.AssetState `json:"state"`
	Since   time.Time        `json:"since"`
	EventID int64            `json:"event_id"`
}

// ListAssets handles GET /api/assets.
func (h *Handler) ListAssets(c *gin.Context) {
	assets, err := h.store.ListAssets(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	c.JSON(http.StatusOK, assets)
}

// GetAssetState handles GET /api/assets/:id/state.
func (h *Handler) GetAssetState(c *gin.Context) {
	ev, err := h.ledger.CurrentState(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assetStateResponse{
		AssetID: ev.AssetID,
		State:   ev.NewState,
		Since:   ev.Timestamp.UTC(),
		EventID: ev.ID,
	})
}

// GetAggregate handles GET /api/aggregate?asset_id&from&to.
func (h *Handler) GetAggregate(c *gin.Context) {
	from, to, ok := queryRange(c)
	if !ok {
		return
	}
	aggs, err := h.reports.AggregateWindow(c.Request.Context(), c.Query("asset_id"), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, aggs)
}
