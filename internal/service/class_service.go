package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Class, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
}

// CreateClassRequest describes payload for creating a class.
type CreateClassRequest struct {
	GradeID  string `json:"grade_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Capacity int    `json:"capacity" validate:"required,min=1"`
	IsActive bool   `json:"is_active"`
}

// UpdateClassRequest updates mutable fields on a class.
type UpdateClassRequest struct {
	GradeID  string `json:"grade_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Capacity int    `json:"capacity" validate:"required,min=1"`
	IsActive *bool  `json:"is_active"`
}

// ClassService orchestrates class management. Enrollment counters are owned
// by EnrollmentRepository; this service never touches them directly.
type ClassService struct {
	repo      classRepository
	grades    gradeReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs ClassService.
func NewClassService(repo classRepository, grades gradeReader, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, grades: grades, validator: validate, logger: logger}
}

// List returns paginated classes with grade context.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, wrapInternal(err, "failed to list classes")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return classes, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a class.
func (s *ClassService) Get(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, wrapInternal(err, "failed to load class")
	}
	return class, nil
}

// Create registers a new class under a grade.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if _, err := s.grades.FindByID(ctx, req.GradeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, wrapInternal(err, "failed to load grade")
	}
	class := &models.Class{GradeID: req.GradeID, Name: req.Name, Capacity: req.Capacity, IsActive: req.IsActive}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, wrapInternal(err, "failed to create class")
	}
	s.logger.Info("class created",
		zap.String("class_id", class.ID),
		zap.String("grade_id", class.GradeID),
		zap.Int("capacity", class.Capacity))
	return class, nil
}

// Update modifies a class. Capacity cannot drop below current enrollment.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	class, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.GradeID != class.GradeID {
		if _, err := s.grades.FindByID(ctx, req.GradeID); err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
			}
			return nil, wrapInternal(err, "failed to load grade")
		}
	}
	class.GradeID = req.GradeID
	class.Name = req.Name
	class.Capacity = req.Capacity
	if req.IsActive != nil {
		class.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, class); err != nil {
		return nil, wrapInternal(err, "failed to update class")
	}
	return s.Get(ctx, id)
}

// Delete removes a class with no enrolled students.
func (s *ClassService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return wrapInternal(err, "failed to delete class")
	}
	return nil
}
