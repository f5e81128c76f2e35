package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sas-billing-api/internal/models"
	"github.com/noah-isme/sas-billing-api/internal/service"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
	"github.com/noah-isme/sas-billing-api/pkg/response"
)

// BillHandler exposes billing endpoints: generation, payments, and the
// lifecycle mutations on issued bills.
type BillHandler struct {
	service   *service.BillingService
	dashboard *service.DashboardService
}

// NewBillHandler constructs a bill handler. The dashboard service is optional
// and only used to invalidate cached summaries after mutations.
func NewBillHandler(svc *service.BillingService, dashboard *service.DashboardService) *BillHandler {
	return &BillHandler{service: svc, dashboard: dashboard}
}

func (h *BillHandler) invalidateDashboard(c *gin.Context, termID string) {
	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context(), termID)
	}
}

// List godoc
// @Summary List bills
// @Tags Bills
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param academic_year_id query string false "Filter by academic year"
// @Param term_id query string false "Filter by term"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /bills [get]
func (h *BillHandler) List(c *gin.Context) {
	var filter models.BillFilter
	filter.StudentID = c.Query("student_id")
	filter.AcademicYearID = c.Query("academic_year_id")
	filter.TermID = c.Query("term_id")
	filter.Status = models.BillStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	bills, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bills, pagination)
}

// Get godoc
// @Summary Get bill detail with line items
// @Tags Bills
// @Produce json
// @Param id path string true "Bill ID"
// @Success 200 {object} response.Envelope
// @Router /bills/{id} [get]
func (h *BillHandler) Get(c *gin.Context) {
	bill, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bill, nil)
}

// Generate godoc
// @Summary Generate a bill for one student
// @Description Idempotent per student and term; a second generation attempt conflicts
// @Tags Bills
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 201 {object} response.Envelope
// @Router /bills/students/{studentId} [post]
func (h *BillHandler) Generate(c *gin.Context) {
	bill, err := h.service.Generate(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidateDashboard(c, bill.TermID)
	response.Created(c, bill)
}

// GenerateForClass godoc
// @Summary Generate bills for every active student in a class
// @Description Students already billed for the current term are skipped
// @Tags Bills
// @Produce json
// @Param classId path string true "Class ID"
// @Success 202 {object} response.Envelope
// @Router /bills/classes/{classId} [post]
func (h *BillHandler) GenerateForClass(c *gin.Context) {
	result, err := h.service.GenerateForClass(c.Request.Context(), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidateDashboard(c, "")
	response.JSON(c, http.StatusAccepted, result, nil)
}

// ListPayments godoc
// @Summary List payment facts recorded against a bill
// @Tags Bills
// @Produce json
// @Param id path string true "Bill ID"
// @Success 200 {object} response.Envelope
// @Router /bills/{id}/payments [get]
func (h *BillHandler) ListPayments(c *gin.Context) {
	payments, err := h.service.ListPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// RecordPayment godoc
// @Summary Record a payment against a bill
// @Description Overpayment beyond the outstanding balance is rejected
// @Tags Bills
// @Accept json
// @Produce json
// @Param id path string true "Bill ID"
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /bills/{id}/payments [post]
func (h *BillHandler) RecordPayment(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	bill, err := h.service.RecordPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidateDashboard(c, bill.TermID)
	response.JSON(c, http.StatusOK, bill, nil)
}

// ReversePayment godoc
// @Summary Reverse part or all of the recorded payments
// @Tags Bills
// @Accept json
// @Produce json
// @Param id path string true "Bill ID"
// @Param payload body service.ReversePaymentRequest true "Reversal payload"
// @Success 200 {object} response.Envelope
// @Router /bills/{id}/payments/reverse [post]
func (h *BillHandler) ReversePayment(c *gin.Context) {
	var req service.ReversePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	bill, err := h.service.ReversePayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidateDashboard(c, bill.TermID)
	response.JSON(c, http.StatusOK, bill, nil)
}

// RecordItemPayment godoc
// @Summary Record a payment against one bill line
// @Description Each line carries its own ledger independent of the bill-level one
// @Tags Bills
// @Accept json
// @Produce json
// @Param id path string true "Bill ID"
// @Param itemId path string true "Bill item ID"
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /bills/{id}/items/{itemId}/payments [post]
func (h *BillHandler) RecordItemPayment(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	item, err := h.service.RecordItemPayment(c.Request.Context(), c.Param("id"), c.Param("itemId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidateDashboard(c, "")
	response.JSON(c, http.StatusOK, item, nil)
}

// ApplyDiscount godoc
// @Summary Apply a discount to a pending bill
// @Tags Bills
// @Accept json
// @Produce json
// @Param id path string true "Bill ID"
// @Param payload body service.ApplyDiscountRequest true "Discount payload"
// @Success 200 {object} response.Envelope
// @Router /bills/{id}/discount [post]
func (h *BillHandler) ApplyDiscount(c *gin.Context) {
	var req service.ApplyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	bill, err := h.service.ApplyDiscount(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidateDashboard(c, bill.TermID)
	response.JSON(c, http.StatusOK, bill, nil)
}

// Cancel godoc
// @Summary Cancel an unpaid bill
// @Description Bills with recorded payments cannot be cancelled; reverse the payments first
// @Tags Bills
// @Accept json
// @Produce json
// @Param id path string true "Bill ID"
// @Param payload body service.CancelBillRequest true "Cancel payload"
// @Success 200 {object} response.Envelope
// @Router /bills/{id}/cancel [post]
func (h *BillHandler) Cancel(c *gin.Context) {
	var req service.CancelBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	bill, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidateDashboard(c, bill.TermID)
	response.JSON(c, http.StatusOK, bill, nil)
}

// AppendNote godoc
// @Summary Append a note to a bill
// @Tags Bills
// @Accept json
// @Produce json
// @Param id path string true "Bill ID"
// @Param payload body service.AppendNoteRequest true "Note payload"
// @Success 200 {object} response.Envelope
// @Router /bills/{id}/notes [post]
func (h *BillHandler) AppendNote(c *gin.Context) {
	var req service.AppendNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	bill, err := h.service.AppendNote(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bill, nil)
}

// MarkOverdue godoc
// @Summary Sweep pending bills past their due date to overdue
// @Description Runs the same sweep the nightly scheduler performs
// @Tags Bills
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /bills/overdue/sweep [post]
func (h *BillHandler) MarkOverdue(c *gin.Context) {
	count, err := h.service.MarkOverdue(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidateDashboard(c, "")
	response.JSON(c, http.StatusOK, gin.H{"marked_overdue": count}, nil)
}
