package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"asset-monitor-backend/internal/model"
)

// ListArchives handles GET /api/archives?shift_id&limit. Snapshots are left
// out of the listing.
func (h *Handler) ListArchives(c *gin.Context) {
	shiftID, ok := queryInt(c, "shift_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	archives, err := h.reports.ListArchives(c.Request.Context(), int64(shiftID), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if archives == nil {
		archives = []model.Archive{}
	}
	c.JSON(http.StatusOK, archives)
}

// GetArchive handles GET /api/archives/:id.
func (h *Handler) GetArchive(c *gin.Context) {
	a, err := h.reports.GetArchive(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
