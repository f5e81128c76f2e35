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

type gradeRepository interface {
	List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, int, error)
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	ExistsByLevel(ctx context.Context, level int, excludeID string) (bool, error)
	Create(ctx context.Context, grade *models.Grade) error
	Update(ctx context.Context, grade *models.Grade) error
	Delete(ctx context.Context, id string) error
}

// CreateGradeRequest describes payload for creating a grade level.
type CreateGradeRequest struct {
	Name     string `json:"name" validate:"required"`
	Level    int    `json:"level" validate:"required,min=1"`
	IsActive bool   `json:"is_active"`
}

// UpdateGradeRequest updates mutable fields on a grade.
type UpdateGradeRequest struct {
	Name     string `json:"name" validate:"required"`
	Level    int    `json:"level" validate:"required,min=1"`
	IsActive *bool  `json:"is_active"`
}

// GradeService orchestrates grade level management.
type GradeService struct {
	repo      gradeRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradeService constructs GradeService.
func NewGradeService(repo gradeRepository, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated grades ordered by level.
func (s *GradeService) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, *models.Pagination, error) {
	grades, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, wrapInternal(err, "failed to list grades")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return grades, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a grade.
func (s *GradeService) Get(ctx context.Context, id string) (*models.Grade, error) {
	grade, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, wrapInternal(err, "failed to load grade")
	}
	return grade, nil
}

func (s *GradeService) validateName(name string) error {
	if !models.GradeNamePattern.MatchString(name) {
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("grade name %q must match pattern N<level> or P<level>", name))
	}
	return nil
}

// Create registers a new grade with a unique level.
func (s *GradeService) Create(ctx context.Context, req CreateGradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	if err := s.validateName(req.Name); err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByLevel(ctx, req.Level, "")
	if err != nil {
		return nil, wrapInternal(err, "failed to check grade level")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("level %d is already taken", req.Level))
	}
	grade := &models.Grade{Name: req.Name, Level: req.Level, IsActive: req.IsActive}
	if err := s.repo.Create(ctx, grade); err != nil {
		return nil, wrapInternal(err, "failed to create grade")
	}
	s.logger.Info("grade created", zap.String("grade_id", grade.ID), zap.Int("level", grade.Level))
	return grade, nil
}

// Update modifies an existing grade.
func (s *GradeService) Update(ctx context.Context, id string, req UpdateGradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	if err := s.validateName(req.Name); err != nil {
		return nil, err
	}
	grade, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByLevel(ctx, req.Level, id)
	if err != nil {
		return nil, wrapInternal(err, "failed to check grade level")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("level %d is already taken", req.Level))
	}
	grade.Name = req.Name
	grade.Level = req.Level
	if req.IsActive != nil {
		grade.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, grade); err != nil {
		return nil, wrapInternal(err, "failed to update grade")
	}
	return grade, nil
}

// Delete removes a grade with no dependent classes or students.
func (s *GradeService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return wrapInternal(err, "failed to delete grade")
	}
	return nil
}
