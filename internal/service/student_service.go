package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ExistsByNIS(ctx context.Context, nis, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

// CreateStudentRequest describes payload for registering a student.
type CreateStudentRequest struct {
	NIS      string `json:"nis" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
}

// UpdateStudentRequest updates student master data.
type UpdateStudentRequest struct {
	NIS      string `json:"nis" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
}

// StudentService orchestrates student master data. Class assignment and
// status transitions go through EnrollmentService.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated students with class context.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, wrapInternal(err, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a student with class and grade names resolved.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, wrapInternal(err, "failed to load student")
	}
	return student, nil
}

// Create registers a new student. New students start active and unassigned.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	exists, err := s.repo.ExistsByNIS(ctx, req.NIS, "")
	if err != nil {
		return nil, wrapInternal(err, "failed to check student number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student number is already registered")
	}
	student := &models.Student{NIS: req.NIS, FullName: req.FullName}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, wrapInternal(err, "failed to create student")
	}
	s.logger.Info("student created", zap.String("student_id", student.ID), zap.String("nis", student.NIS))
	return student, nil
}

// Update modifies student master data.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, wrapInternal(err, "failed to load student")
	}
	exists, err := s.repo.ExistsByNIS(ctx, req.NIS, id)
	if err != nil {
		return nil, wrapInternal(err, "failed to check student number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student number is already registered")
	}
	student.NIS = req.NIS
	student.FullName = req.FullName
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, wrapInternal(err, "failed to update student")
	}
	return s.Get(ctx, id)
}

// Delete removes a student with no billing history.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return wrapInternal(err, "failed to delete student")
	}
	return nil
}
