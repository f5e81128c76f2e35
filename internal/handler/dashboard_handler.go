package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sas-billing-api/internal/middleware"
	"github.com/noah-isme/sas-billing-api/internal/service"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
	"github.com/noah-isme/sas-billing-api/pkg/response"
)

type dashboardService interface {
	Billing(ctx context.Context, termID string) (*service.BillingDashboard, bool, error)
}

// DashboardHandler wires the billing dashboard to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Billing godoc
// @Summary Billing dashboard for a term
// @Description Aggregated collection state per class with status counts
// @Tags Dashboard
// @Produce json
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /dashboard/billing [get]
func (h *DashboardHandler) Billing(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	termID := strings.TrimSpace(c.Query("termId"))
	if termID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "termId is required"))
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.service.Billing(c.Request.Context(), termID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}
