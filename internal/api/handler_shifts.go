package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"asset-monitor-backend/internal/model"
	"asset-monitor-backend/internal/report"
)

type openShiftRequest struct {
	Name      string     `json:"name" binding:"required"`
	StartTime *time.Time `json:"start_time"`
}

type closeShiftRequest struct {
	EndTime *time.Time `json:"end_time"`
}

type productionRequest struct {
	AssetID           string  `json:"asset_id"`
	TotalCount        int64   `json:"total_count"`
	GoodCount         int64   `json:"good_count"`
	IdealCycleSeconds float64 `json:"ideal_cycle_seconds"`
}

// OpenShift handles POST /api/shifts.
func (h *Handler) OpenShift(c *gin.Context) {
	var req openShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	var start time.Time
	if req.StartTime != nil {
		start = *req.StartTime
	}
	sh, err := h.reports.OpenShift(c.Request.Context(), req.Name, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sh)
}

// ListShifts handles GET /api/shifts?limit.
func (h *Handler) ListShifts(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	shifts, err := h.reports.ListShifts(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if shifts == nil {
		shifts = []model.Shift{}
	}
	c.JSON(http.StatusOK, shifts)
}

// GetShift handles GET /api/shifts/:id.
func (h *Handler) GetShift(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sh, err := h.reports.GetShift(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

// CloseShift handles POST /api/shifts/:id/close. The body is optional; without
// an end_time the shift closes now.
func (h *Handler) CloseShift(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req closeShiftRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	var end time.Time
	if req.EndTime != nil {
		end = *req.EndTime
	}
	sh, err := h.reports.CloseShift(c.Request.Context(), id, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

// DeleteShift handles DELETE /api/shifts/:id. Archives of the shift are kept.
func (h *Handler) DeleteShift(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.reports.DeleteShift(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutProduction handles PUT /api/shifts/:id/production.
func (h *Handler) PutProduction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req productionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	count, err := h.reports.RecordProduction(c.Request.Context(), model.ProductionCount{
		ShiftID:           id,
		AssetID:           req.AssetID,
		TotalCount:        req.TotalCount,
		GoodCount:         req.GoodCount,
		IdealCycleSeconds: req.IdealCycleSeconds,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

// GetShiftReport handles GET /api/shifts/:id/report?include_raw_data&is_final.
func (h *Handler) GetShiftReport(c *gin.Context) {
	id, opts, ok := reportOptions(c)
	if !ok {
		return
	}
	r, err := h.reports.GenerateShiftReport(c.Request.Context(), id, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ArchiveShift handles POST /api/shifts/:id/archive?include_raw_data&is_final.
func (h *Handler) ArchiveShift(c *gin.Context) {
	id, opts, ok := reportOptions(c)
	if !ok {
		return
	}
	archives, err := h.reports.ArchiveShift(c.Request.Context(), id, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, archives)
}

func reportOptions(c *gin.Context) (int64, report.Options, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return 0, report.Options{}, false
	}
	raw, ok := queryBool(c, "include_raw_data")
	if !ok {
		return 0, report.Options{}, false
	}
	final, ok := queryBool(c, "is_final")
	if !ok {
		return 0, report.Options{}, false
	}
	return id, report.Options{IncludeRawData: raw, IsFinal: final}, true
}
