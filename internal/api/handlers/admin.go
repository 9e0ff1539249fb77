package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/db"
)

type JobStats interface {
	StatsByState(ctx context.Context) ([]db.PaymentStateStats, error)
}

type AuditLister interface {
	ListAuditLogs(ctx context.Context, filter db.AuditFilter, limit, offset int) ([]*db.AuditLog, error)
}

type ListAuditQuery struct {
	Action     string `form:"action"`
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	Limit      int    `form:"limit" binding:"min=0,max=200"`
	Offset     int    `form:"offset" binding:"min=0"`
}

type JobStatsResponse struct {
	ByState     []db.PaymentStateStats `json:"by_state"`
	TotalJobs   int64                  `json:"total_jobs"`
	PaidRevenue float64                `json:"paid_revenue"`
	Currency    string                 `json:"currency"`
}

type AdminHandler struct {
	stats    JobStats
	audit    AuditLister
	currency string
	log      zerolog.Logger
}

func NewAdminHandler(stats JobStats, audit AuditLister, currency string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		stats:    stats,
		audit:    audit,
		currency: currency,
		log:      logger.With().Str("component", "admin_handler").Logger(),
	}
}

func (h *AdminHandler) JobStats(c *gin.Context) {
	stats, err := h.stats.StatsByState(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load job stats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve job statistics",
		})
		return
	}

	resp := JobStatsResponse{ByState: stats, Currency: h.currency}
	for _, s := range stats {
		resp.TotalJobs += s.Count
		if s.State == "paid" {
			resp.PaidRevenue = s.Revenue
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) ListAudit(c *gin.Context) {
	var query ListAuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}
	if query.Limit == 0 {
		query.Limit = 50
	}

	logs, err := h.audit.ListAuditLogs(c.Request.Context(), db.AuditFilter{
		Action:     query.Action,
		EntityType: query.EntityType,
		EntityID:   query.EntityID,
	}, query.Limit, query.Offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list audit log")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve audit log",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": logs, "limit": query.Limit, "offset": query.Offset})
}

func RegisterAdminRoutes(r *gin.RouterGroup, h *AdminHandler) {
	r.GET("/jobs/stats", h.JobStats)
	r.GET("/audit", h.ListAudit)
}
