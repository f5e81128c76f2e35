package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sas-billing-api/internal/service"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
	"github.com/noah-isme/sas-billing-api/pkg/response"
)

// EnrollmentHandler exposes seat management endpoints. The coordinated
// variants commit the seat mutation and the term bill in one transaction.
type EnrollmentHandler struct {
	service     *service.EnrollmentService
	coordinator *service.EnrollmentBillingService
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(svc *service.EnrollmentService, coordinator *service.EnrollmentBillingService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc, coordinator: coordinator}
}

// Assign godoc
// @Summary Assign a student to a class
// @Description The class must be active and have a free seat
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body service.AssignStudentRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/assign [post]
func (h *EnrollmentHandler) Assign(c *gin.Context) {
	var req service.AssignStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.service.Assign(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Remove godoc
// @Summary Remove a student from their class
// @Description Releases the seat without changing the student's status
// @Tags Enrollment
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{studentId} [delete]
func (h *EnrollmentHandler) Remove(c *gin.Context) {
	student, err := h.service.Remove(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Transfer godoc
// @Summary Transfer a student to another class
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body service.TransferStudentRequest true "Transfer payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{studentId}/transfer [post]
func (h *EnrollmentHandler) Transfer(c *gin.Context) {
	var req service.TransferStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.service.Transfer(c.Request.Context(), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Promote godoc
// @Summary Promote a student to the next grade
// @Description Moves the student one grade level up, into the requested class or the first one with space
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body service.PromoteStudentRequest false "Optional target class"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{studentId}/promote [post]
func (h *EnrollmentHandler) Promote(c *gin.Context) {
	var req service.PromoteStudentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	student, err := h.service.Promote(c.Request.Context(), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Graduate godoc
// @Summary Graduate a student
// @Description Terminal status; the seat is released
// @Tags Enrollment
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{studentId}/graduate [post]
func (h *EnrollmentHandler) Graduate(c *gin.Context) {
	student, err := h.service.Graduate(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Deactivate godoc
// @Summary Deactivate a student
// @Description Terminal status; the seat is released
// @Tags Enrollment
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{studentId}/deactivate [post]
func (h *EnrollmentHandler) Deactivate(c *gin.Context) {
	student, err := h.service.Deactivate(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// MarkTransferred godoc
// @Summary Mark a student as transferred out of the institution
// @Description Terminal status; the seat is released
// @Tags Enrollment
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{studentId}/mark-transferred [post]
func (h *EnrollmentHandler) MarkTransferred(c *gin.Context) {
	student, err := h.service.MarkTransferred(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Reconcile godoc
// @Summary Reconcile a class enrollment counter
// @Description Recounts enrolled students and repairs counter drift
// @Tags Enrollment
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/classes/{classId}/reconcile [post]
func (h *EnrollmentHandler) Reconcile(c *gin.Context) {
	result, err := h.service.Reconcile(c.Request.Context(), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AssignAndBill godoc
// @Summary Assign a student to a class and bill them for the current term
// @Description Seat and bill commit together; a class without tariffs enrolls with a skip reason
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body service.AssignStudentRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/assign-and-bill [post]
func (h *EnrollmentHandler) AssignAndBill(c *gin.Context) {
	var req service.AssignStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	outcome, err := h.coordinator.AssignAndBill(c.Request.Context(), req.StudentID, req.ClassID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// TransferAndBill godoc
// @Summary Transfer a student and bill them for the current term
// @Description The bill is priced by the target class's tariffs
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body service.TransferStudentRequest true "Transfer payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{studentId}/transfer-and-bill [post]
func (h *EnrollmentHandler) TransferAndBill(c *gin.Context) {
	var req service.TransferStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	outcome, err := h.coordinator.TransferAndBill(c.Request.Context(), c.Param("studentId"), req.TargetClassID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// PromoteAndBill godoc
// @Summary Promote a student and bill them for the current term
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body service.PromoteStudentRequest false "Optional target class"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{studentId}/promote-and-bill [post]
func (h *EnrollmentHandler) PromoteAndBill(c *gin.Context) {
	var req service.PromoteStudentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	outcome, err := h.coordinator.PromoteAndBill(c.Request.Context(), c.Param("studentId"), req.TargetClassID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}
