package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sas-billing-api/internal/models"
	appErrors "github.com/noah-isme/sas-billing-api/pkg/errors"
)

type tariffRepository interface {
	List(ctx context.Context, filter models.TariffFilter) ([]models.Tariff, int, error)
	FindByID(ctx context.Context, id string) (*models.Tariff, error)
	Create(ctx context.Context, tariff *models.Tariff) error
	Update(ctx context.Context, tariff *models.Tariff) error
	Delete(ctx context.Context, id string) error
	AttachToClass(ctx context.Context, classID, tariffID string) error
	DetachFromClass(ctx context.Context, classID, tariffID string) error
	ListByClass(ctx context.Context, classID string) ([]models.ClassTariffDetail, error)
}

// CreateTariffRequest describes payload for creating a tariff.
type CreateTariffRequest struct {
	Name             string                  `json:"name" validate:"required"`
	Type             string                  `json:"type" validate:"required"`
	Amount           decimal.Decimal         `json:"amount" validate:"required"`
	BillingFrequency models.BillingFrequency `json:"billing_frequency" validate:"required"`
	IsActive         bool                    `json:"is_active"`
}

// UpdateTariffRequest updates mutable fields on a tariff.
type UpdateTariffRequest struct {
	Name             string                  `json:"name" validate:"required"`
	Type             string                  `json:"type" validate:"required"`
	Amount           decimal.Decimal         `json:"amount" validate:"required"`
	BillingFrequency models.BillingFrequency `json:"billing_frequency" validate:"required"`
	IsActive         *bool                   `json:"is_active"`
}

// TariffService orchestrates tariff management and class attachments.
type TariffService struct {
	repo      tariffRepository
	classes   classReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTariffService constructs TariffService.
func NewTariffService(repo tariffRepository, classes classReader, validate *validator.Validate, logger *zap.Logger) *TariffService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TariffService{repo: repo, classes: classes, validator: validate, logger: logger}
}

// List returns paginated tariffs.
func (s *TariffService) List(ctx context.Context, filter models.TariffFilter) ([]models.Tariff, *models.Pagination, error) {
	tariffs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, wrapInternal(err, "failed to list tariffs")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return tariffs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a tariff.
func (s *TariffService) Get(ctx context.Context, id string) (*models.Tariff, error) {
	tariff, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "tariff not found")
		}
		return nil, wrapInternal(err, "failed to load tariff")
	}
	return tariff, nil
}

func validateTariffAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return appErrors.Clone(appErrors.ErrValidation, "tariff amount cannot be negative")
	}
	return nil
}

// Create registers a new tariff.
func (s *TariffService) Create(ctx context.Context, req CreateTariffRequest) (*models.Tariff, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid tariff payload")
	}
	if !req.BillingFrequency.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown billing frequency")
	}
	if err := validateTariffAmount(req.Amount); err != nil {
		return nil, err
	}
	tariff := &models.Tariff{
		Name:             req.Name,
		Type:             req.Type,
		Amount:           req.Amount,
		BillingFrequency: req.BillingFrequency,
		IsActive:         req.IsActive,
	}
	if err := s.repo.Create(ctx, tariff); err != nil {
		return nil, wrapInternal(err, "failed to create tariff")
	}
	s.logger.Info("tariff created",
		zap.String("tariff_id", tariff.ID),
		zap.String("amount", tariff.Amount.StringFixed(2)),
		zap.String("frequency", string(tariff.BillingFrequency)))
	return tariff, nil
}

// Update modifies a tariff. Issued bills keep their captured amounts.
func (s *TariffService) Update(ctx context.Context, id string, req UpdateTariffRequest) (*models.Tariff, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid tariff payload")
	}
	if !req.BillingFrequency.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown billing frequency")
	}
	if err := validateTariffAmount(req.Amount); err != nil {
		return nil, err
	}
	tariff, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tariff.Name = req.Name
	tariff.Type = req.Type
	tariff.Amount = req.Amount
	tariff.BillingFrequency = req.BillingFrequency
	if req.IsActive != nil {
		tariff.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, tariff); err != nil {
		return nil, wrapInternal(err, "failed to update tariff")
	}
	return tariff, nil
}

// Delete removes a tariff with no class attachments.
func (s *TariffService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return wrapInternal(err, "failed to delete tariff")
	}
	return nil
}

// Attach links a tariff to a class so future bills for the class include it.
func (s *TariffService) Attach(ctx context.Context, classID, tariffID string) error {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return wrapInternal(err, "failed to load class")
	}
	if _, err := s.Get(ctx, tariffID); err != nil {
		return err
	}
	if err := s.repo.AttachToClass(ctx, classID, tariffID); err != nil {
		return wrapInternal(err, "failed to attach tariff")
	}
	s.logger.Info("tariff attached", zap.String("class_id", classID), zap.String("tariff_id", tariffID))
	return nil
}

// Detach deactivates a class/tariff link. Future bills stop charging it;
// issued bills are untouched.
func (s *TariffService) Detach(ctx context.Context, classID, tariffID string) error {
	if err := s.repo.DetachFromClass(ctx, classID, tariffID); err != nil {
		return wrapInternal(err, "failed to detach tariff")
	}
	s.logger.Info("tariff detached", zap.String("class_id", classID), zap.String("tariff_id", tariffID))
	return nil
}

// ListByClass returns every attachment for a class with pricing resolved.
func (s *TariffService) ListByClass(ctx context.Context, classID string) ([]models.ClassTariffDetail, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, wrapInternal(err, "failed to load class")
	}
	details, err := s.repo.ListByClass(ctx, classID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list class tariffs")
	}
	return details, nil
}
