package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"asset-monitor-backend/internal/ledger"
	"asset-monitor-backend/internal/live"
	"asset-monitor-backend/internal/report"
	"asset-monitor-backend/internal/shift"
	"asset-monitor-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	ledger  *ledger.Ledger
	reports *report.Service
	hub     *live.Hub
	webpush *webpush.Options
}

// NewHandler creates a new API handler. hub and webpushOptions may be nil.
func NewHandler(s store.Store, l *ledger.Ledger, reports *report.Service, hub *live.Hub, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		ledger:  l,
		reports: reports,
		hub:     hub,
		webpush: webpushOptions,
	}
}

// Health reports whether the database is reachable.
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateEvent),
		errors.Is(err, ledger.ErrOutOfOrderEvent),
		errors.Is(err, store.ErrShiftClosed),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidEvent),
		errors.Is(err, store.ErrInvalidShiftWindow),
		errors.Is(err, shift.ErrInvalidRange),
		errors.Is(err, report.ErrInvalidShift),
		errors.Is(err, report.ErrInvalidProduction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func queryBool(c *gin.Context, key string) (bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return false, false
	}
	return v, true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return v, true
}

// queryRange reads RFC3339 "from" and "to" parameters. from is required and
// to defaults to now.
func queryRange(c *gin.Context) (time.Time, time.Time, bool) {
	rawFrom := c.Query("from")
	if rawFrom == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from is required"})
		return time.Time{}, time.Time{}, false
	}
	from, err := time.Parse(time.RFC3339, rawFrom)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid 'from' timestamp format. Use RFC3339."})
		return time.Time{}, time.Time{}, false
	}
	to := time.Now()
	if rawTo := c.Query("to"); rawTo != "" {
		if to, err = time.Parse(time.RFC3339, rawTo); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid 'to' timestamp format. Use RFC3339."})
			return time.Time{}, time.Time{}, false
		}
	}
	return from.UTC(), to.UTC(), true
}
