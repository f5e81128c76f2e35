package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type enrollmentRepository interface {
	Assign(ctx context.Context, studentID, classID string) error
	Remove(ctx context.Context, studentID string) error
	Transfer(ctx context.Context, studentID, targetClassID string) error
	SetTerminalStatus(ctx context.Context, studentID string, status models.StudentStatus) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindFirstAvailableInGrade(ctx context.Context, gradeID string) (*models.Class, error)
	Reconcile(ctx context.Context, id string) (*models.ClassReconciliation, error)
}

type gradeReader interface {
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	FindByLevel(ctx context.Context, level int) (*models.Grade, error)
}

// AssignStudentRequest places a student into a class.
type AssignStudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ClassID   string `json:"class_id" validate:"required"`
}

// TransferStudentRequest moves a student to another class.
type TransferStudentRequest struct {
	TargetClassID string `json:"target_class_id" validate:"required"`
}

// PromoteStudentRequest optionally names the class a promoted student lands
// in. When empty, the first available class in the next grade is picked.
type PromoteStudentRequest struct {
	TargetClassID string `json:"target_class_id"`
}

// EnrollmentService orchestrates student seat management. Every mutation goes
// through EnrollmentRepository so the class counters move with the membership.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	classes   classReader
	grades    gradeReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, classes classReader, grades gradeReader, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, classes: classes, grades: grades, validator: validate, logger: logger}
}

func (s *EnrollmentService) detail(ctx context.Context, studentID string) (*models.StudentDetail, error) {
	detail, err := s.students.FindDetailByID(ctx, studentID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load student detail")
	}
	return detail, nil
}

// Assign places an unassigned active student into a class.
func (s *EnrollmentService) Assign(ctx context.Context, req AssignStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if err := s.repo.Assign(ctx, req.StudentID, req.ClassID); err != nil {
		return nil, wrapInternal(err, "failed to assign student")
	}
	s.logger.Info("student assigned",
		zap.String("student_id", req.StudentID),
		zap.String("class_id", req.ClassID))
	return s.detail(ctx, req.StudentID)
}

// Remove detaches a student from their current class without changing status.
func (s *EnrollmentService) Remove(ctx context.Context, studentID string) (*models.StudentDetail, error) {
	if err := s.repo.Remove(ctx, studentID); err != nil {
		return nil, wrapInternal(err, "failed to remove student from class")
	}
	s.logger.Info("student removed from class", zap.String("student_id", studentID))
	return s.detail(ctx, studentID)
}

// Transfer moves a student to the target class.
func (s *EnrollmentService) Transfer(ctx context.Context, studentID string, req TransferStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transfer payload")
	}
	if err := s.repo.Transfer(ctx, studentID, req.TargetClassID); err != nil {
		return nil, wrapInternal(err, "failed to transfer student")
	}
	s.logger.Info("student transferred",
		zap.String("student_id", studentID),
		zap.String("target_class_id", req.TargetClassID))
	return s.detail(ctx, studentID)
}

// ResolvePromotionTarget finds the class a student moves to when promoted.
// A non-empty targetClassID overrides auto-selection; the class must sit in
// the grade one level above the student's current one, be active and have
// space. With no override the first available class in the next grade is
// picked. The top grade has no promotion target; those students graduate
// instead.
func (s *EnrollmentService) ResolvePromotionTarget(ctx context.Context, studentID, targetClassID string) (*models.Class, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, wrapInternal(err, "failed to load student")
	}
	if !student.Assigned() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "student is not assigned to any class")
	}
	current, err := s.classes.FindByID(ctx, *student.ClassID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load current class")
	}
	grade, err := s.grades.FindByID(ctx, current.GradeID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load current grade")
	}
	next, err := s.grades.FindByLevel(ctx, grade.Level+1)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is in the top grade; graduate instead of promoting")
		}
		return nil, wrapInternal(err, "failed to resolve next grade")
	}
	if targetClassID != "" {
		target, err := s.classes.FindByID(ctx, targetClassID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "target class not found")
			}
			return nil, wrapInternal(err, "failed to load target class")
		}
		if target.GradeID != next.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "target class is not in the next grade")
		}
		if !target.IsActive {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "target class is inactive")
		}
		if !target.HasSpace() {
			return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf("class %s is full (%d/%d)", target.Name, target.CurrentEnrollment, target.Capacity))
		}
		return target, nil
	}
	target, err := s.classes.FindFirstAvailableInGrade(ctx, next.ID)
	if err != nil {
		return nil, wrapInternal(err, "failed to resolve promotion target class")
	}
	return target, nil
}

// Promote moves a student into the next grade, either into the requested
// class or the first one with space.
func (s *EnrollmentService) Promote(ctx context.Context, studentID string, req PromoteStudentRequest) (*models.StudentDetail, error) {
	target, err := s.ResolvePromotionTarget(ctx, studentID, req.TargetClassID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Transfer(ctx, studentID, target.ID); err != nil {
		return nil, wrapInternal(err, "failed to promote student")
	}
	s.logger.Info("student promoted",
		zap.String("student_id", studentID),
		zap.String("target_class_id", target.ID))
	return s.detail(ctx, studentID)
}

// Graduate marks a student graduated and releases their seat.
func (s *EnrollmentService) Graduate(ctx context.Context, studentID string) (*models.StudentDetail, error) {
	return s.setTerminal(ctx, studentID, models.StudentStatusGraduated)
}

// Deactivate marks a student inactive and releases their seat.
func (s *EnrollmentService) Deactivate(ctx context.Context, studentID string) (*models.StudentDetail, error) {
	return s.setTerminal(ctx, studentID, models.StudentStatusInactive)
}

// MarkTransferred marks a student as transferred out of the institution and
// releases their seat.
func (s *EnrollmentService) MarkTransferred(ctx context.Context, studentID string) (*models.StudentDetail, error) {
	return s.setTerminal(ctx, studentID, models.StudentStatusTransferred)
}

func (s *EnrollmentService) setTerminal(ctx context.Context, studentID string, status models.StudentStatus) (*models.StudentDetail, error) {
	if err := s.repo.SetTerminalStatus(ctx, studentID, status); err != nil {
		return nil, wrapInternal(err, "failed to update student status")
	}
	s.logger.Info("student status changed",
		zap.String("student_id", studentID),
		zap.String("status", string(status)))
	return s.detail(ctx, studentID)
}

// Reconcile recounts the enrollment counter of a class against the actual
// student rows and repairs drift.
func (s *EnrollmentService) Reconcile(ctx context.Context, classID string) (*models.ClassReconciliation, error) {
	result, err := s.classes.Reconcile(ctx, classID)
	if err != nil {
		return nil, wrapInternal(err, "failed to reconcile class")
	}
	if result.Repaired {
		s.logger.Warn("enrollment counter drift repaired",
			zap.String("class_id", classID),
			zap.Int("stored", result.StoredCount),
			zap.Int("actual", result.ActualCount))
	}
	return result, nil
}
