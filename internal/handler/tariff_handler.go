package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sas-billing-api/internal/models"
	"github.com/noah-isme/sas-billing-api/internal/service"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
	"github.com/noah-isme/sas-billing-api/pkg/response"
)

// TariffHandler exposes tariff CRUD endpoints.
type TariffHandler struct {
	service *service.TariffService
}

// NewTariffHandler constructs a tariff handler.
func NewTariffHandler(svc *service.TariffService) *TariffHandler {
	return &TariffHandler{service: svc}
}

// List godoc
// @Summary List tariffs
// @Tags Tariffs
// @Produce json
// @Param type query string false "Filter by tariff type"
// @Param frequency query string false "Filter by billing frequency"
// @Param is_active query bool false "Filter by active state"
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /tariffs [get]
func (h *TariffHandler) List(c *gin.Context) {
	var filter models.TariffFilter
	filter.Type = c.Query("type")
	filter.Frequency = models.BillingFrequency(c.Query("frequency"))
	if active := c.Query("is_active"); active != "" {
		if val, err := strconv.ParseBool(active); err == nil {
			filter.IsActive = &val
		}
	}
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	tariffs, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tariffs, pagination)
}

// Get godoc
// @Summary Get tariff detail
// @Tags Tariffs
// @Produce json
// @Param id path string true "Tariff ID"
// @Success 200 {object} response.Envelope
// @Router /tariffs/{id} [get]
func (h *TariffHandler) Get(c *gin.Context) {
	tariff, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tariff, nil)
}

// Create godoc
// @Summary Create tariff
// @Tags Tariffs
// @Accept json
// @Produce json
// @Param payload body service.CreateTariffRequest true "Tariff payload"
// @Success 201 {object} response.Envelope
// @Router /tariffs [post]
func (h *TariffHandler) Create(c *gin.Context) {
	var req service.CreateTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	tariff, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tariff)
}

// Update godoc
// @Summary Update tariff
// @Description Issued bills keep the amounts captured at generation time
// @Tags Tariffs
// @Accept json
// @Produce json
// @Param id path string true "Tariff ID"
// @Param payload body service.UpdateTariffRequest true "Tariff payload"
// @Success 200 {object} response.Envelope
// @Router /tariffs/{id} [put]
func (h *TariffHandler) Update(c *gin.Context) {
	var req service.UpdateTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	tariff, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tariff, nil)
}

// Delete godoc
// @Summary Delete tariff
// @Description Refused while classes still reference the tariff
// @Tags Tariffs
// @Produce json
// @Param id path string true "Tariff ID"
// @Success 204
// @Router /tariffs/{id} [delete]
func (h *TariffHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
