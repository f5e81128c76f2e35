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

// ClassHandler exposes class CRUD endpoints.
type ClassHandler struct {
	service *service.ClassService
	tariffs *service.TariffService
}

// NewClassHandler constructs a class handler.
func NewClassHandler(svc *service.ClassService, tariffs *service.TariffService) *ClassHandler {
	return &ClassHandler{service: svc, tariffs: tariffs}
}

// List godoc
// @Summary List classes
// @Tags Classes
// @Produce json
// @Param grade_id query string false "Filter by grade"
// @Param is_active query bool false "Filter by active state"
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	var filter models.ClassFilter
	filter.GradeID = c.Query("grade_id")
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

	classes, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, pagination)
}

// Get godoc
// @Summary Get class detail
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Create godoc
// @Summary Create class
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body service.CreateClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	var req service.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// Update godoc
// @Summary Update class
// @Description Capacity cannot drop below the current enrollment count
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.UpdateClassRequest true "Class payload"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [put]
func (h *ClassHandler) Update(c *gin.Context) {
	var req service.UpdateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Delete godoc
// @Summary Delete class
// @Description Refused while students are still enrolled
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 204
// @Router /classes/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListTariffs godoc
// @Summary List tariffs attached to a class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/tariffs [get]
func (h *ClassHandler) ListTariffs(c *gin.Context) {
	details, err := h.tariffs.ListByClass(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, nil)
}

// AttachTariff godoc
// @Summary Attach a tariff to a class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Param tariffId path string true "Tariff ID"
// @Success 204
// @Router /classes/{id}/tariffs/{tariffId} [put]
func (h *ClassHandler) AttachTariff(c *gin.Context) {
	if err := h.tariffs.Attach(c.Request.Context(), c.Param("id"), c.Param("tariffId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DetachTariff godoc
// @Summary Detach a tariff from a class
// @Description Deactivates the link; issued bills keep their captured amounts
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Param tariffId path string true "Tariff ID"
// @Success 204
// @Router /classes/{id}/tariffs/{tariffId} [delete]
func (h *ClassHandler) DetachTariff(c *gin.Context) {
	if err := h.tariffs.Detach(c.Request.Context(), c.Param("id"), c.Param("tariffId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
